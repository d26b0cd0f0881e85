package zaplog

import (
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapSprintfLogger returns a logging.Logger backed by a zap sugared
// logger writing to stderr. Intended for the binaries; library code receives
// the resulting Logger and stays backend-agnostic.
func NewZapSprintfLogger(debug bool) logging.Logger {
	return build(newConfig(debug))
}

// NewZapSprintfFileLogger also appends all output to the given file. The
// headless server uses this for its core log while keeping stdout clean for
// the readiness handshake.
func NewZapSprintfFileLogger(path string, debug bool) logging.Logger {
	config := newConfig(debug)
	config.OutputPaths = []string{"stderr", path}
	config.ErrorOutputPaths = []string{"stderr"}
	return build(config)
}

func newConfig(debug bool) zap.Config {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return config
}

func build(config zap.Config) logging.Logger {
	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		// Fall back to the no-op logger rather than failing startup.
		return logging.NewNullLogger()
	}
	return &zapSprintfLogger{sugar: zapLogger.Sugar()}
}

type zapSprintfLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapSprintfLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case logging.LogLevelDebug:
		l.sugar.Debugf(format, args...)
	case logging.LogLevelWarn:
		l.sugar.Warnf(format, args...)
	case logging.LogLevelError:
		l.sugar.Errorf(format, args...)
	default:
		l.sugar.Infof(format, args...)
	}
}

func (l *zapSprintfLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *zapSprintfLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *zapSprintfLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *zapSprintfLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}
