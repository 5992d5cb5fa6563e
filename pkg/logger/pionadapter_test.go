package logger

import (
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPionLoggerFactoryScopesByName(t *testing.T) {
	var lines []string
	base := funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{})

	factory := PionLoggerFactory{Logger: base}
	l := factory.NewLogger("ice")
	l.Infof("candidate %s", "pair-1")

	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "ice")
	assert.Contains(t, lines[0], "pair-1")
}

func TestPionLoggerFactoryErrorUsesErrorLevel(t *testing.T) {
	var lines []string
	base := funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{})

	l := PionLoggerFactory{Logger: base}.NewLogger("dtls")
	l.Errorf("handshake failed: %s", "timeout")

	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "handshake failed")
}
