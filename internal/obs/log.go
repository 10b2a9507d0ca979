// Package obs holds the observability plumbing shared across the control
// plane: structured logging and prometheus metrics.
package obs

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig holds logging configuration options.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// NewLogger creates a configured zap logger. All service code receives a
// *zap.Logger through constructor options; this is the single place the
// logger is built.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "warden")), nil
}

// LogConfigFromEnv creates a LogConfig from environment variables.
func LogConfigFromEnv() LogConfig {
	return LogConfig{
		Level:  getenv("WARDEN_LOG_LEVEL", "info"),
		Format: getenv("WARDEN_LOG_FORMAT", "json"),
	}
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
