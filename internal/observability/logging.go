// Package observability provides structured logging for the speeddrawer server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/speeddrawer/server/internal/config"
	"github.com/speeddrawer/server/internal/game/session"
)

// ServiceName is attached to every log entry.
const ServiceName = "speeddrawer"

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		// Disconnect storms must not be sampled away.
		zapCfg.Sampling = nil
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]any{"service": ServiceName}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// UserFields returns the standard fields identifying u in log entries.
func UserFields(u *session.User) []zap.Field {
	fields := []zap.Field{
		zap.String("user", u.ID),
		zap.String("remote_addr", u.Conn.RemoteAddr()),
	}
	if u.Username != "" {
		fields = append(fields, zap.String("username", u.Username))
	}
	if u.RoomID != "" {
		fields = append(fields, zap.String("room", u.RoomID))
	}
	return fields
}
