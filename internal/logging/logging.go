// Package logging builds the zap logger shared by every command.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cropalato/pkgrepo/internal/config"
)

// ServiceName is attached to every log entry
const ServiceName = "pkgrepo"

// New builds a JSON logger writing to stderr and, when cfg.File is set, to a
// rotated log file. debug forces the debug level whatever cfg.Level says.
func New(cfg config.LogConfig, debug bool, version string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()

	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.StacktraceKey = "stacktrace"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.LevelKey = "level"

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if debug {
		level = zapcore.DebugLevel
		zc.Development = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if cfg.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zc.EncoderConfig),
			zapcore.AddSync(Rotator(cfg)),
			zc.Level,
		)
		// the tee goes first so the fields below reach the file too
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	opts = append(opts,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("service", ServiceName),
			zap.String("version", version),
		),
	)

	return zc.Build(opts...)
}

// Rotator returns the rotating writer of the log file
func Rotator(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
}
