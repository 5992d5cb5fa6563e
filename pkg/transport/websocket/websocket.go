// Package websocket implements pkg/transport.Session/Core over
// gorilla/websocket, grounded directly on the teacher's
// pkg/rtc/wsprotocol.go (ping worker, single-writer mutex) and
// pkg/service/rtcservice.go (upgrader with origin check delegated to
// the HTTP layer's auth, per-connection read loop goroutine).
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/rtcgate/rtcgate/pkg/transport"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second
	writeTimeout  = 5 * time.Second
)

// Conn is one signaling WebSocket connection. It implements
// transport.Session.
type Conn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  logr.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// newConn wraps an already-upgraded *websocket.Conn and starts its
// ping worker, per the teacher's NewWSSignalConnection.
func newConn(c *websocket.Conn, log logr.Logger) *Conn {
	wc := &Conn{conn: c, log: log, closed: make(chan struct{})}
	go wc.pingWorker()
	return wc
}

// SendMessage implements transport.Session.
func (c *Conn) SendMessage(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close implements transport.Session.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements transport.Session.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) pingWorker() {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readLoop pumps incoming text frames to core.IncomingRequest until
// the connection errors out, then reports session_over, per spec §6.
func (c *Conn) readLoop(core transport.Core) {
	defer func() {
		c.Close()
	}()
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			core.SessionOver(c, err.Error())
			return
		}
		if messageType != websocket.TextMessage {
			c.log.V(1).Info("ignoring non-text websocket frame", "type", messageType)
			continue
		}
		core.IncomingRequest(c, payload)
	}
}

// Server upgrades incoming HTTP requests to signaling WebSocket
// connections, per spec §6's transport boundary. Origin checking and
// authentication belong to the HTTP handler chain in front of this,
// matching the teacher's comment ("security is enforced by access
// tokens", not by CheckOrigin).
type Server struct {
	upgrader websocket.Upgrader
	core     transport.Core
	log      logr.Logger
}

// NewServer builds a Server that dispatches into core.
func NewServer(core transport.Core, log logr.Logger) *Server {
	s := &Server{core: core, log: log}
	s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	return s
}

// ServeHTTP upgrades the request and starts its read loop. sessionID
// is 0 until the client's first signaling message establishes one;
// the core is responsible for correlating subsequent messages to a
// Session via whatever ID scheme spec §3 assigns.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "websocket upgrade failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn := newConn(raw, s.log)
	s.core.SessionCreated(conn, 0)
	go conn.readLoop(s.core)
}
