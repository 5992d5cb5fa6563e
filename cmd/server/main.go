// Command server is the gateway's process entrypoint: it loads
// configuration, wires the session manager, plugin registry, auth
// store, and signaling transport together, and runs until a signal
// asks it to stop.
//
// Grounded on the teacher's cmd/server/main.go urfave/cli/v2 flag set
// and config-then-override flow, trimmed to this core's actual
// config surface (no multi-node routing, no room/service layer).
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	pionice "github.com/pion/ice/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/rtcgate/rtcgate/pkg/auth"
	"github.com/rtcgate/rtcgate/pkg/config"
	"github.com/rtcgate/rtcgate/pkg/gatewayerrors"
	"github.com/rtcgate/rtcgate/pkg/logger"
	"github.com/rtcgate/rtcgate/pkg/plugin"
	"github.com/rtcgate/rtcgate/pkg/rtpio"
	"github.com/rtcgate/rtcgate/pkg/session"
	"github.com/rtcgate/rtcgate/pkg/transport"
	wstransport "github.com/rtcgate/rtcgate/pkg/transport/websocket"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "bind",
		Usage: "address to listen on for the signaling HTTP/WebSocket endpoint",
		Value: ":8188",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "use a human-readable console logger instead of JSON",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn, or error",
		Value: "info",
	},
}

func main() {
	app := &cli.App{
		Name:        "rtcgate",
		Usage:       "per-session WebRTC media gateway",
		Description: "run without subcommands to start the gateway",
		Flags:       append(baseFlags, config.Flags()...),
		Action:      startServer,
	}

	if err := app.Run(os.Args); err != nil {
		logger.GetLogger().Error(err, "exiting")
		os.Exit(1)
	}
}

func startServer(c *cli.Context) error {
	if c.Bool("dev") {
		logger.InitDevelopment(c.String("log-level"))
	} else {
		logger.InitProduction(c.String("log-level"))
	}
	log := logger.GetLogger()

	snap, err := config.Load(c.String("config"))
	if err != nil {
		log.Info("no config file loaded, using defaults", "error", err.Error())
		snap = config.Default()
	}
	config.ApplyFlags(c, snap)
	cfgStore := config.NewStore(snap)

	authStore := auth.NewStore(snap.Auth.TokenAuth, snap.Auth.TokenSecret)
	registry := plugin.NewRegistry()
	sessions := session.NewManager()

	core := &gatewayCore{
		cfg:      cfgStore,
		auth:     authStore,
		registry: registry,
		sessions: sessions,
		log:      log,
		watchdog: session.NewWatchdog(2 * time.Second),
		handles:  make(map[uint64]*handleEntry),
	}

	stopReaper := make(chan struct{})
	go core.runWatchdog(stopReaper)

	wsServer := wstransport.NewServer(core, logger.Named("transport.websocket"))

	mux := http.NewServeMux()
	mux.Handle("/", wsServer)

	addr := c.String("bind")
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error(err, "http server failed")
	}

	close(stopReaper)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// handleEntry is what the core needs to resolve a handle ID back to its
// owning Session and signaling connection, for the plugin.Core methods
// and the watchdog to call into.
type handleEntry struct {
	handle    *session.Handle
	sess      *session.Session
	transport transport.Session
	plugin    plugin.Session
}

// envelope is the minimal internal signaling message this core
// dispatches on, per spec §3's Session/Handle lifecycle (create,
// attach, message, trickle, destroy). The exact wire format a transport
// hands IncomingRequest is out of scope; this is the shape IncomingRequest
// itself expects once unmarshaled.
type envelope struct {
	Type        string          `json:"type"`
	Transaction string          `json:"transaction,omitempty"`
	Token       string          `json:"token,omitempty"`
	SessionID   uint64          `json:"session_id,omitempty"`
	HandleID    uint64          `json:"handle_id,omitempty"`
	Plugin      string          `json:"plugin,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Jsep        *plugin.JSEP    `json:"jsep,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// candidateInit mirrors the standard RTCIceCandidateInit shape a
// trickle envelope's candidate field carries; an empty Candidate
// string marks end-of-candidates.
type candidateInit struct {
	Candidate string `json:"candidate"`
}

// gatewayCore implements transport.Core and plugin.Core, dispatching
// signaling traffic arriving over any registered transport into the
// session manager and plugin registry, per spec §3/§6.
type gatewayCore struct {
	cfg      *config.Store
	auth     *auth.Store
	registry *plugin.Registry
	sessions *session.Manager
	watchdog *session.Watchdog
	log      interface {
		Info(string, ...interface{})
		Error(error, string, ...interface{})
	}

	mu      sync.RWMutex
	handles map[uint64]*handleEntry
}

func (g *gatewayCore) SessionCreated(sess transport.Session, sessionID uint64) {
	snap := g.cfg.Load()
	g.log.Info("transport session created",
		"remote", sess.RemoteAddr(),
		"authEnabled", g.auth.Enabled(),
		"nackQueue", snap.Media.NackQueue,
		"plugins", g.registry.Names(),
	)
}

func (g *gatewayCore) SessionOver(sess transport.Session, reason string) {
	g.log.Info("transport session over", "remote", sess.RemoteAddr(), "reason", reason)
}

// IncomingRequest parses the minimal internal envelope and dispatches
// into the session/plugin/handle machinery, per spec §3's Session ->
// Handle -> plugin lifecycle. The transport boundary's wire format is
// out of scope (spec §1 non-goal); this envelope is what it leaves
// open for the lifecycle logic itself, which is squarely in scope.
func (g *gatewayCore) IncomingRequest(sess transport.Session, payload json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		g.sendError(sess, "", 0, "BAD_REQUEST", err)
		return
	}

	if g.auth.Enabled() && !g.auth.IsSignatureValid(env.Token) {
		g.sendError(sess, env.Transaction, env.SessionID, "AUTH_FAILED", nil)
		return
	}

	switch env.Type {
	case "create":
		g.handleCreate(sess, &env)
	case "attach":
		g.handleAttach(sess, &env)
	case "message":
		g.handleMessage(sess, &env)
	case "trickle":
		g.handleTrickle(sess, &env)
	case "destroy":
		g.handleDestroy(sess, &env)
	case "query":
		g.handleQuery(sess, &env)
	default:
		g.sendError(sess, env.Transaction, env.SessionID, "UNKNOWN_REQUEST_TYPE", nil)
	}
}

func (g *gatewayCore) handleCreate(sess transport.Session, env *envelope) {
	id := newSessionID()
	g.sessions.Create(id)
	g.reply(sess, env, map[string]interface{}{"session_id": id})
}

func (g *gatewayCore) handleAttach(sess transport.Session, env *envelope) {
	s, err := g.sessions.Get(env.SessionID)
	if err != nil {
		g.sendError(sess, env.Transaction, env.SessionID, "NO_SUCH_SESSION", err)
		return
	}
	s.Touch()

	if g.auth.Enabled() {
		if allowed, _ := g.auth.SignatureContains(env.Token, env.Plugin); !allowed {
			g.sendError(sess, env.Transaction, env.SessionID, "PLUGIN_NOT_PERMITTED", nil)
			return
		}
	}

	pl, ok := g.registry.Lookup(env.Plugin)
	if !ok {
		g.sendError(sess, env.Transaction, env.SessionID, "PLUGIN_NOT_FOUND", nil)
		return
	}

	h := session.NewHandle(s, env.Plugin)
	h.SetLogger(logger.Named("handle"))
	h.Stream = session.NewStream()
	h.Stream.Component = session.NewComponent()
	s.AddHandle(h)

	g.mu.Lock()
	g.handles[h.ID] = &handleEntry{handle: h, sess: s, transport: sess, plugin: pl}
	g.mu.Unlock()

	h.SetWriter(composeWriter(h.Stream, h.Stream.Component))
	go h.RunSendWorker(3)

	if err := pl.CreateSession(h.ID); err != nil {
		g.forgetHandle(h.ID)
		s.RemoveHandle(h.ID)
		h.Stop()
		g.sendError(sess, env.Transaction, env.SessionID, "PLUGIN_ERROR", err)
		return
	}

	g.reply(sess, env, map[string]interface{}{"handle_id": h.ID})
}

func (g *gatewayCore) handleMessage(sess transport.Session, env *envelope) {
	entry, ok := g.lookupHandle(env.HandleID)
	if !ok {
		g.sendError(sess, env.Transaction, env.SessionID, "NO_SUCH_HANDLE", nil)
		return
	}
	entry.sess.Touch()

	result := entry.plugin.HandleMessage(env.HandleID, env.Transaction, env.Body, env.Jsep)
	switch result.Kind {
	case plugin.ResultOK:
		g.reply(sess, env, result.Payload)
	case plugin.ResultOKWait:
		g.reply(sess, env, map[string]string{"result": "ack", "text": result.Text})
	default:
		g.sendError(sess, env.Transaction, env.SessionID, "PLUGIN_ERROR", errors.New(result.Text))
	}
}

func (g *gatewayCore) handleQuery(sess transport.Session, env *envelope) {
	entry, ok := g.lookupHandle(env.HandleID)
	if !ok {
		g.sendError(sess, env.Transaction, env.SessionID, "NO_SUCH_HANDLE", nil)
		return
	}
	info, err := entry.plugin.QuerySession(env.HandleID)
	if err != nil {
		g.sendError(sess, env.Transaction, env.SessionID, "PLUGIN_ERROR", err)
		return
	}
	g.reply(sess, env, info)
}

func (g *gatewayCore) handleTrickle(sess transport.Session, env *envelope) {
	entry, ok := g.lookupHandle(env.HandleID)
	if !ok {
		g.sendError(sess, env.Transaction, env.SessionID, "NO_SUCH_HANDLE", nil)
		return
	}
	entry.sess.Touch()

	if len(env.Candidate) == 0 {
		return
	}
	var ci candidateInit
	if err := json.Unmarshal(env.Candidate, &ci); err != nil {
		g.sendError(sess, env.Transaction, env.SessionID, "MALFORMED_CANDIDATE", err)
		return
	}

	if ci.Candidate == "" {
		entry.handle.Flags.Set(session.FlagAllTrickles)
		return
	}

	if entry.handle.Flags.Has(session.FlagProcessingOffer) {
		entry.handle.QueueTrickle(session.TrickleCandidate{
			HandleID:   env.HandleID,
			Transaction: env.Transaction,
			Candidate:  ci.Candidate,
			ReceivedAt: time.Now(),
		})
		return
	}

	cand, err := pionice.UnmarshalCandidate(ci.Candidate)
	if err != nil {
		g.log.Error(err, "trickle: unmarshal candidate failed", "handleID", env.HandleID)
		return
	}
	if entry.handle.Stream != nil && entry.handle.Stream.Component != nil {
		_ = entry.handle.Stream.Component.ICE.AddRemoteTrickle(cand)
	}
}

func (g *gatewayCore) handleDestroy(sess transport.Session, env *envelope) {
	if env.HandleID != 0 {
		if entry, ok := g.lookupHandle(env.HandleID); ok {
			g.hangupHandle(entry, session.ReasonClientDestroy)
		}
		g.reply(sess, env, map[string]string{"event": "destroyed"})
		return
	}

	if s, err := g.sessions.Get(env.SessionID); err == nil {
		for _, h := range s.Handles() {
			if entry, ok := g.lookupHandle(h.ID); ok {
				g.hangupHandle(entry, session.ReasonClientDestroy)
			}
		}
		g.sessions.Destroy(env.SessionID)
	}
	g.reply(sess, env, map[string]string{"event": "destroyed"})
}

// hangupHandle drives spec §4.10 phase one and schedules phase two via
// the watchdog, used by both the destroy dispatch path and the
// plugin.Core ClosePC/EndSession callbacks.
func (g *gatewayCore) hangupHandle(entry *handleEntry, reason string) {
	entry.handle.HangupMediaPhase(reason, session.PluginHangupCallbacks{
		HangupMedia: func(id uint64) { entry.plugin.HangupMedia(id) },
		NotifySignaling: func(id uint64, reason string) {
			_ = entry.transport.SendMessage(mustJSON(map[string]interface{}{
				"type": "hangup", "handle_id": id, "reason": reason,
			}))
		},
	})
	g.watchdog.ScheduleFree(entry.handle.ID)
}

func (g *gatewayCore) lookupHandle(id uint64) (*handleEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.handles[id]
	return e, ok
}

func (g *gatewayCore) forgetHandle(id uint64) {
	g.mu.Lock()
	delete(g.handles, id)
	g.mu.Unlock()
}

// runWatchdog drives the deferred free phase of spec §4.10's two-phase
// hangup, ticking once a second until stopCh closes.
func (g *gatewayCore) runWatchdog(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			g.watchdog.Tick(now, func(id uint64) *session.Handle {
				entry, ok := g.lookupHandle(id)
				if !ok {
					return nil
				}
				if err := entry.plugin.DestroySession(id); err != nil {
					g.log.Error(err, "plugin destroy_session failed", "handleID", id)
				}
				g.forgetHandle(id)
				return entry.handle
			})
		case <-stopCh:
			return
		}
	}
}

// PushEvent implements plugin.Core.
func (g *gatewayCore) PushEvent(handleID uint64, pluginName string, transaction string, message json.RawMessage, jsep *plugin.JSEP) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	return entry.transport.SendMessage(mustJSON(map[string]interface{}{
		"type": "event", "handle_id": handleID, "plugin": pluginName,
		"transaction": transaction, "body": message, "jsep": jsep,
	}))
}

// RelayRTP implements plugin.Core, handing media to the handle's send
// worker per spec §4.7.
func (g *gatewayCore) RelayRTP(handleID uint64, video bool, payload []byte) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	if entry.handle.Enqueue(session.QueuedPacket{Kind: session.KindRTP, Video: video, Payload: payload}) {
		return gatewayerrors.Wrap(gatewayerrors.CodeResourceExhausted, nil, "relay rtp: send queue full")
	}
	return nil
}

func (g *gatewayCore) RelayRTCP(handleID uint64, payload []byte) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	if entry.handle.Enqueue(session.QueuedPacket{Kind: session.KindRTCP, Payload: payload}) {
		return gatewayerrors.Wrap(gatewayerrors.CodeResourceExhausted, nil, "relay rtcp: send queue full")
	}
	return nil
}

func (g *gatewayCore) RelayData(handleID uint64, payload []byte) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	if entry.handle.Enqueue(session.QueuedPacket{Kind: session.KindData, Payload: payload}) {
		return gatewayerrors.Wrap(gatewayerrors.CodeResourceExhausted, nil, "relay data: send queue full")
	}
	return nil
}

func (g *gatewayCore) ClosePC(handleID uint64) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	g.hangupHandle(entry, session.ReasonClientDestroy)
	return nil
}

func (g *gatewayCore) EndSession(handleID uint64) error {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return session.ErrHandleNotFound
	}
	g.hangupHandle(entry, session.ReasonClientDestroy)
	if entry.sess != nil && len(entry.sess.Handles()) == 0 {
		g.sessions.Destroy(entry.sess.ID)
	}
	return nil
}

func (g *gatewayCore) EventsEnabled() bool {
	return g.cfg.Load().Media.EventStatsPeriod > 0
}

func (g *gatewayCore) NotifyEvent(pluginName string, handleID uint64, payload json.RawMessage) {
	entry, ok := g.lookupHandle(handleID)
	if !ok {
		return
	}
	_ = entry.transport.SendMessage(mustJSON(map[string]interface{}{
		"type": "event-notify", "plugin": pluginName, "handle_id": handleID, "body": payload,
	}))
}

func (g *gatewayCore) IsSignatureValid(token string, secret string) bool {
	return g.auth.IsSignatureValid(token)
}

func (g *gatewayCore) SignatureContains(token string, pluginName string) bool {
	allowed, err := g.auth.SignatureContains(token, pluginName)
	return err == nil && allowed
}

// composeWriter builds the function Handle.RunSendWorker calls for
// every queued packet: continuity rewrite for the lane the plugin is
// relaying through, retransmit-buffer bookkeeping (only for lanes
// already created with Component.Lane), then the ICE write. No SRTP
// encryption is applied: the bytes reach the ICE pair as rewritten. RTP is the
// only kind that passes through the rewrite context; RTCP and data
// carry no per-lane sequence continuity to preserve.
func composeWriter(stream *session.Stream, comp *session.Component) func(session.QueuedPacket) error {
	return func(pkt session.QueuedPacket) error {
		if pkt.Kind != session.KindRTP {
			comp.RecordOut(len(pkt.Payload))
			_, err := comp.ICE.Send(pkt.Payload)
			return err
		}
		return writeRTP(stream, comp, pkt)
	}
}

func writeRTP(stream *session.Stream, comp *session.Component, pkt session.QueuedPacket) error {
	parsed, err := rtpio.Parse(pkt.Payload)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.CodeMalformedPacket, err, "outbound rtp parse")
	}

	// The send queue carries only an audio/video flag, not a simulcast
	// layer id: relaying a single layer per handle (the common plugin
	// pattern) maps video onto the high-layer rewrite context.
	layer := session.LayerHigh
	seq, ts := parsed.Header.SequenceNumber, parsed.Header.Timestamp
	stream.RewriteFor(pkt.Video, layer).Update(parsed.Header.SSRC, &seq, &ts, time.Now())
	parsed.Header.SequenceNumber, parsed.Header.Timestamp = seq, ts

	out, err := parsed.Marshal()
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.CodeFatalInternal, err, "outbound rtp marshal")
	}

	laneKey := "audio"
	if pkt.Video {
		laneKey = "video-2"
	}
	if buf := comp.Outbound(laneKey); buf != nil {
		buf.Push(seq, out)
	}
	comp.RecordOut(len(out))

	_, err = comp.ICE.Send(out)
	return err
}

func (g *gatewayCore) reply(sess transport.Session, env *envelope, data interface{}) {
	_ = sess.SendMessage(mustJSON(map[string]interface{}{
		"type": "success", "transaction": env.Transaction, "session_id": env.SessionID, "data": data,
	}))
}

func (g *gatewayCore) sendError(sess transport.Session, transaction string, sessionID uint64, code string, err error) {
	reason := code
	if err != nil {
		reason = err.Error()
	}
	_ = sess.SendMessage(mustJSON(map[string]interface{}{
		"type": "error", "transaction": transaction, "session_id": sessionID,
		"error": map[string]string{"code": code, "reason": reason},
	}))
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"error","error":{"code":"ENCODE_FAILED"}}`)
	}
	return b
}

// newSessionID derives a 64-bit Session ID from a random UUID, matching
// pkg/session's own newHandleID derivation.
func newSessionID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}
