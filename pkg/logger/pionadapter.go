package logger

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/logging"
)

// PionLoggerFactory adapts a logr.Logger into a pion logging.LoggerFactory,
// so pkg/ice's ICE/DTLS/SRTP agents log through the same structured
// sink as the rest of the gateway. Grounded almost verbatim on the
// teacher's pkg/rtc/logadapter.go.
type PionLoggerFactory struct {
	Logger logr.Logger
}

// NewLogger implements logging.LoggerFactory.
func (f PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogAdapter{logger: f.Logger.WithName(scope), verbosity: 1}
}

// pionLogAdapter implements pion's logging.LeveledLogger over logr,
// treating pion's "info" as our "debug" (verbosity 1) the way the
// teacher's logAdapter does, since pion logs routine state transitions
// at Info that would otherwise be too noisy at our default level.
type pionLogAdapter struct {
	logger    logr.Logger
	verbosity int
}

func (l *pionLogAdapter) Trace(msg string) { l.Tracef(msg) }

func (l *pionLogAdapter) Tracef(format string, args ...interface{}) {
	l.logger.V(2 + l.verbosity).Info(fmt.Sprintf(format, args...))
}

func (l *pionLogAdapter) Debug(msg string) { l.Debugf(msg) }

func (l *pionLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.V(1 + l.verbosity).Info(fmt.Sprintf(format, args...))
}

func (l *pionLogAdapter) Info(msg string) { l.Infof(msg) }

func (l *pionLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.V(l.verbosity).Info(fmt.Sprintf(format, args...))
}

func (l *pionLogAdapter) Warn(msg string) { l.Warnf(msg) }

func (l *pionLogAdapter) Warnf(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *pionLogAdapter) Error(msg string) { l.Errorf(msg) }

func (l *pionLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(nil, fmt.Sprintf(format, args...))
}
