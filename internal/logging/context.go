package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceID returns the trace ID stored in ctx, if any
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := FromContext(ctx).WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// GuardContext creates a logger context for guard evaluations
func GuardContext(account string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"account": account,
	}).WithComponent("guard")
}

// SignalContext creates a logger context for trading signals
func SignalContext(symbol, direction string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"direction":  direction,
		"confidence": confidence,
	}).WithComponent("signal")
}

// RiskContext creates a logger context for risk management
func RiskContext(symbol string, riskFraction, positionSize float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":        symbol,
		"risk_fraction": riskFraction,
		"position_size": positionSize,
	}).WithComponent("risk")
}

// CircuitContext creates a logger context for a breaker channel
func CircuitContext(channel string) *Logger {
	return Default().WithField("channel", channel).WithComponent("circuit")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// APIContext creates a logger context for API operations
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}
