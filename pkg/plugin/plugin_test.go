package plugin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	NoopOptional
	name string
}

func (s *stubPlugin) Init(Core, string) error    { return nil }
func (s *stubPlugin) Destroy()                   {}
func (s *stubPlugin) APICompat() int             { return 1 }
func (s *stubPlugin) Version() int               { return 1 }
func (s *stubPlugin) Name() string               { return s.name }
func (s *stubPlugin) Description() string        { return "stub" }
func (s *stubPlugin) Package() string            { return s.name }
func (s *stubPlugin) CreateSession(uint64) error { return nil }
func (s *stubPlugin) HandleMessage(uint64, string, json.RawMessage, *JSEP) HandleMessageResult {
	return OK(nil)
}
func (s *stubPlugin) QuerySession(uint64) (json.RawMessage, error) { return nil, nil }
func (s *stubPlugin) DestroySession(uint64) error                 { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	p := &stubPlugin{name: "janus.plugin.echo"}
	r.Register(p)

	got, ok := r.Lookup("janus.plugin.echo")
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = r.Lookup("janus.plugin.missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"janus.plugin.echo"}, r.Names())
}

func TestRegistryRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubPlugin{name: "dup"})
	assert.Panics(t, func() {
		r.Register(&stubPlugin{name: "dup"})
	})
}

func TestNoopOptionalSatisfiesOptional(t *testing.T) {
	var opt Optional = NoopOptional{}
	opt.SetupMedia(1)
	opt.IncomingRTP(1, true, []byte{1})
	opt.IncomingRTCP(1, []byte{1})
	opt.IncomingData(1, []byte{1})
	opt.SlowLink(1, true, false)
	opt.HangupMedia(1)
}

func TestHandleMessageResultConstructors(t *testing.T) {
	ok := OK(json.RawMessage(`{"a":1}`))
	assert.Equal(t, ResultOK, ok.Kind)

	wait := OKWait("processing")
	assert.Equal(t, ResultOKWait, wait.Kind)
	assert.Equal(t, "processing", wait.Text)

	errRes := Err("boom")
	assert.Equal(t, ResultError, errRes.Kind)
	assert.Equal(t, "boom", errRes.Text)
}
