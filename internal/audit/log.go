// Package audit records security-relevant events as structured log entries.
package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"helpdesk.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit entries through a zap logger.
type Logger struct {
	log *zap.Logger
}

// New returns an audit logger. A nil base logger discards entries.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{log: base.With(zap.String("type", "audit"))}
}

// Event writes an audit entry enriched with request and user context.
// Callers must never pass passwords or raw tokens as fields.
func (l *Logger) Event(ctx context.Context, event string, fields ...zap.Field) {
	if l == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}
	all := make([]zap.Field, 0, len(fields)+3)
	all = append(all, zap.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		all = append(all, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		all = append(all, zap.String("user_id", userID))
	}
	all = append(all, fields...)
	l.log.Info("audit", all...)
}
