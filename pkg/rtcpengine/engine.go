package rtcpengine

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/rtcgate/rtcgate/pkg/retransmit"
)

// Callbacks receives the plugin-facing/control-facing effects of
// inbound RTCP, per spec §4.5: PLI/FIR are forwarded so the plugin can
// request a keyframe, REMB is forwarded as a bandwidth estimate, NACK
// feeds the outbound retransmit buffer, and BYE is advisory only.
type Callbacks struct {
	OnPictureLossIndication func(mediaSSRC uint32)
	OnFullIntraRequest      func(mediaSSRC uint32)
	OnNack                  func(mediaSSRC uint32, pid, blp uint16)
	OnREMB                  func(bitrate uint64, ssrcs []uint32)
	OnBye                   func(ssrcs []uint32, reason string)
	OnCNAME                 func(ssrc uint32, cname string)
}

// Dispatch splits an inbound compound RTCP buffer and routes each
// report to the right per-lane Context (via resolve) and to cb, per
// spec §4.5's first paragraph. resolve may return nil if the SSRC
// isn't recognized yet, in which case only the callbacks fire
// (matching the teacher's tolerance for reports that arrive before the
// stream object is fully set up).
func Dispatch(buf []byte, resolve func(ssrc uint32) *Context, cb Callbacks) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			if resolve != nil {
				if ctx := resolve(p.SSRC); ctx != nil {
					ctx.OnSenderReport(p.NTPTime, p.RTPTime, now)
				}
			}
		case *rtcp.ReceiverReport:
			// Loss/jitter about our own sends; stored for logging/metrics
			// by the caller, nothing to do at this layer beyond dispatch.
		case *rtcp.SourceDescription:
			if cb.OnCNAME == nil {
				continue
			}
			for _, chunk := range p.Chunks {
				for _, item := range chunk.Items {
					if item.Type == rtcp.SDESCNAME {
						cb.OnCNAME(chunk.Source, item.Text)
					}
				}
			}
		case *rtcp.Goodbye:
			if cb.OnBye != nil {
				cb.OnBye(p.Sources, p.Reason)
			}
		case *rtcp.PictureLossIndication:
			if cb.OnPictureLossIndication != nil {
				cb.OnPictureLossIndication(p.MediaSSRC)
			}
		case *rtcp.FullIntraRequest:
			if cb.OnFullIntraRequest != nil {
				for _, e := range p.FIR {
					cb.OnFullIntraRequest(e.SSRC)
				}
			}
		case *rtcp.TransportLayerNack:
			if cb.OnNack != nil {
				for _, pair := range retransmit.FromRTCPNack(p) {
					cb.OnNack(p.MediaSSRC, pair.PID, pair.BLP)
				}
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			if cb.OnREMB != nil {
				cb.OnREMB(uint64(p.Bitrate), p.SSRCs)
			}
		case *rtcp.TransportLayerCC:
			// This module is the generator of TWCC feedback (see twcc.go);
			// an inbound TWCC report means the remote end is itself acting
			// as a receiver on this lane. Nothing to fold in today since
			// we don't run bandwidth estimation in core (forwarded to the
			// plugin like REMB would be, once a plugin asks for it).
		}
	}
	return nil
}

// Ticker drives the periodic outbound report cadence of spec §4.5:
// RR/SR on every Period, TWCC whenever Context.RecordArrival's
// internal threshold fires (handled inline by the caller, not here).
type Ticker struct {
	Period time.Duration
	stop   chan struct{}
}

// NewTicker constructs a Ticker; period<=0 uses the spec's 1s default.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = time.Second
	}
	return &Ticker{Period: period, stop: make(chan struct{})}
}

// Run invokes emit once per Period until Stop is called. emit is
// responsible for building and sending the RR/SR compound packet for
// every active stream (the per-stream fan-out lives in pkg/session).
func (t *Ticker) Run(emit func(now time.Time)) {
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			emit(now)
		case <-t.stop:
			return
		}
	}
}

// Stop ends a running Ticker's Run loop.
func (t *Ticker) Stop() {
	close(t.stop)
}

// BuildCompoundReport assembles the periodic RR (+ SR if sending) for
// one lane into a single compound packet ready to send, per spec
// §4.5's outbound paragraph.
func BuildCompoundReport(ctx *Context, ourSSRC uint32, now time.Time) ([]byte, error) {
	rr := &rtcp.ReceiverReport{
		SSRC:    ourSSRC,
		Reports: []rtcp.ReceptionReport{ctx.BuildReceptionReport(ourSSRC)},
	}
	pkts := []rtcp.Packet{rr}
	if sr := ctx.BuildSenderReport(ourSSRC, now); sr != nil {
		pkts = append([]rtcp.Packet{sr}, pkts...)
	}
	return rtcp.Marshal(pkts)
}
