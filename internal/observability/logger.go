package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/harvestql/harvestql/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger builds the process logger. Every record carries the service and
// profile, plus the telemetry endpoint when it is overridden.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	}
	if cfg.Harvest.BaseURL != "" {
		attrs = append(attrs, slog.String("harvest_endpoint", cfg.Harvest.BaseURL))
	}
	return slog.New(handler).With(attrs...)
}

// WithRelation scopes logger to one relation. instanceID is omitted when the
// relation has not been materialized yet.
func WithRelation(logger *slog.Logger, name, instanceID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	attrs := []any{slog.String("relation", name)}
	if instanceID != "" {
		attrs = append(attrs, slog.String("instance_id", instanceID))
	}
	return logger.With(attrs...)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
