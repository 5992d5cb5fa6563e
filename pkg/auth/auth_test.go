package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidateRoundTrip(t *testing.T) {
	s := NewStore(true, "sekrit")
	token := s.Sign("user-1")
	assert.True(t, s.IsSignatureValid(token))
}

func TestIsSignatureValidRejectsTamperedToken(t *testing.T) {
	s := NewStore(true, "sekrit")
	token := s.Sign("user-1")
	assert.False(t, s.IsSignatureValid(token+"x"))
	assert.False(t, s.IsSignatureValid("not-even-signed"))
}

func TestSignatureContainsRespectsPerTokenPluginSet(t *testing.T) {
	s := NewStore(true, "sekrit")
	s.AddToken("tok-echo", "janus.plugin.echo")
	s.AddToken("tok-any")

	ok, err := s.SignatureContains("tok-echo", "janus.plugin.echo")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SignatureContains("tok-echo", "janus.plugin.video")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SignatureContains("tok-any", "janus.plugin.anything")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SignatureContains("missing", "janus.plugin.echo")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestRemoveTokenRevokes(t *testing.T) {
	s := NewStore(true, "sekrit")
	s.AddToken("tok", "p")
	s.RemoveToken("tok")
	_, err := s.SignatureContains("tok", "p")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestEnabledReflectsConstructorFlag(t *testing.T) {
	assert.True(t, NewStore(true, "x").Enabled())
	assert.False(t, NewStore(false, "x").Enabled())
}
