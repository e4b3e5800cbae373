package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with the verification-domain helpers used by
// InstrumentedEngine and the attestverify CLI.
type Logger struct {
	*zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"), using zap's production JSON encoder when isProduction is true
// and its colorized development encoder otherwise.
func New(level string, isProduction bool) (*Logger, error) {
	var config zap.Config

	if isProduction {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// Must is New, exiting the process on failure. Intended for cmd/ entry
// points where there is no sensible recovery from a broken logger config.
func Must(level string, isProduction bool) *Logger {
	logger, err := New(level, isProduction)
	if err != nil {
		os.Exit(1)
	}
	return logger
}

func (l *Logger) Startup(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

func (l *Logger) Shutdown(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

// VerifySuccess logs a completed, successful verification.
func (l *Logger) VerifySuccess(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

// VerifyFailure logs a verification that was rejected. It is logged at
// Info rather than Error: a rejected attestation is an expected outcome of
// normal operation, not a service fault.
func (l *Logger) VerifyFailure(msg string, fields ...zap.Field) {
	l.Logger.Info(msg, fields...)
}

// RevocationError logs a failure to refresh or consult the revocation
// list, distinct from VerifyFailure since it reflects upstream
// unavailability rather than a judgment about the attestation itself.
func (l *Logger) RevocationError(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, fields...)
}

func (l *Logger) Health(msg string, fields ...zap.Field) {
	l.Logger.Debug(msg, fields...)
}

// MaskSerial returns a partially redacted certificate serial for logs:
// enough to correlate repeated log lines without publishing the full
// value verbatim.
func MaskSerial(serialHex string) string {
	if len(serialHex) <= 8 {
		return serialHex
	}
	return serialHex[:8] + "…"
}
