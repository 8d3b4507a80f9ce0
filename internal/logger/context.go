package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds stage-scoped logging context that follows an event
// through the pipeline.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Stage     string    // Pipeline stage name (listener, device, sftp, ...)
	EventID   string    // Event correlation key, once known
	ClientIP  string    // Remote peer address (without port)
	SessionID string    // SSH session identifier, for device and SFTP stages
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for the given pipeline stage
func NewLogContext(stage string) *LogContext {
	return &LogContext{
		Stage:     stage,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	out := *lc
	return &out
}

// WithEventID returns a copy with the event correlation key set
func (lc *LogContext) WithEventID(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.EventID = id
	}
	return clone
}

// WithClientIP returns a copy with the remote peer address set
func (lc *LogContext) WithClientIP(addr string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ClientIP = addr
	}
	return clone
}

// WithSession returns a copy with the SSH session identifier set
func (lc *LogContext) WithSession(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = id
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
