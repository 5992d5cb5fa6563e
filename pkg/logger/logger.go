// Package logger provides the gateway's structured logger: a zap backend
// exposed through the go-logr facade, the way the teacher wires
// logr.Logger everywhere it needs a logging dependency that crosses a
// package boundary.
package logger

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root logr.Logger = logr.Discard()
)

// InitProduction installs a JSON production logger at the given level
// ("debug", "info", "warn", "error"; empty keeps zap's default "info").
func InitProduction(level string) {
	install(zap.NewProductionConfig(), level)
}

// InitDevelopment installs a human-readable console logger, used by
// cmd/server when run outside of a container.
func InitDevelopment(level string) {
	install(zap.NewDevelopmentConfig(), level)
}

func install(cfg zap.Config, level string) {
	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	mu.Lock()
	root = zapr.NewLogger(l)
	mu.Unlock()
}

// GetLogger returns the process-wide root logger.
func GetLogger() logr.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a child logger scoped to the given component, e.g.
// logger.Named("ice"), logger.Named("session").
func Named(name string) logr.Logger {
	return GetLogger().WithName(name)
}

// SetLogger overrides the root logger, used by tests that want a
// testing.T-backed sink instead of zap.
func SetLogger(l logr.Logger) {
	mu.Lock()
	root = l
	mu.Unlock()
}
