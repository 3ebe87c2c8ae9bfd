// Package observability carries the logging and metrics conventions for
// the query service. Every log line written while answering a question
// includes the trace_id minted by the HTTP middleware; the same ID is
// stored on the history record, so a stored exchange can be matched to
// its log lines and its event stream after the fact.
package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/tabletalk/tabletalk/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger builds the service-wide logger. All entries carry the
// service name and config profile so one log sink can hold several
// deployments.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
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
