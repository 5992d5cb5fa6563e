package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcgate/rtcgate/pkg/transport"
)

type stubCore struct {
	mu       sync.Mutex
	created  []transport.Session
	over     []string
	requests []json.RawMessage
	done     chan struct{}
}

func newStubCore() *stubCore {
	return &stubCore{done: make(chan struct{}, 8)}
}

func (s *stubCore) SessionCreated(sess transport.Session, id uint64) {
	s.mu.Lock()
	s.created = append(s.created, sess)
	s.mu.Unlock()
}

func (s *stubCore) SessionOver(sess transport.Session, reason string) {
	s.mu.Lock()
	s.over = append(s.over, reason)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *stubCore) IncomingRequest(sess transport.Session, payload json.RawMessage) {
	s.mu.Lock()
	s.requests = append(s.requests, payload)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func TestServerUpgradeAndEcho(t *testing.T) {
	core := newStubCore()
	srv := NewServer(core, logr.Discard())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(gorilla.TextMessage, []byte(`{"janus":"create"}`)))

	select {
	case <-core.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for IncomingRequest")
	}

	core.mu.Lock()
	require.Len(t, core.requests, 1)
	assert.JSONEq(t, `{"janus":"create"}`, string(core.requests[0]))
	require.Len(t, core.created, 1)
	core.mu.Unlock()

	require.NoError(t, client.Close())

	select {
	case <-core.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SessionOver")
	}
	core.mu.Lock()
	assert.Len(t, core.over, 1)
	core.mu.Unlock()
}

func TestConnSendMessage(t *testing.T) {
	core := newStubCore()
	srv := NewServer(core, logr.Discard())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-core.done:
	case <-time.After(2 * time.Second):
	}

	core.mu.Lock()
	require.Len(t, core.created, 1)
	sess := core.created[0]
	core.mu.Unlock()

	require.NoError(t, sess.SendMessage(json.RawMessage(`{"janus":"ack"}`)))

	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"janus":"ack"}`, string(payload))

	assert.NotEmpty(t, sess.RemoteAddr())
}
