// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the process logger shared by the store and realtime loggers.
type Logger struct {
	*slog.Logger
}

// GlobalLogger writes JSON to stdout until SetLogger installs the
// configured logger.
var GlobalLogger = &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}

// SetLogger replaces the logger used by the repository and websocket loggers.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	GlobalLogger = &Logger{Logger: l}
}

// LogContextKey keys request-scoped log fields in a context.
type LogContextKey string

const (
	RequestID LogContextKey = "request_id"
	Username  LogContextKey = "username"
)

// LoggingConfig switches the per-component loggers on or off.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableWSLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: true,
	EnableWSLogging:   true,
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestID, id)
}

// ExtractRequestID retrieves the request id from the context.
func ExtractRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestID).(string); ok {
		return id
	}
	return ""
}

// WithUsername returns a new context carrying the caller's username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, Username, username)
}

// ExtractUsername retrieves the caller's username from the context.
func ExtractUsername(ctx context.Context) string {
	if u, ok := ctx.Value(Username).(string); ok {
		return u
	}
	return ""
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	kind   string
	logger *Logger
}

// NewRepoLogger creates a new RepoLogger for the given entity kind.
func NewRepoLogger(kind string) *RepoLogger {
	return &RepoLogger{
		kind:   kind,
		logger: GlobalLogger,
	}
}

func (l *RepoLogger) attrs(ctx context.Context, operation string, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("kind", l.kind),
		slog.String("operation", operation),
		slog.String("request_id", ExtractRequestID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogWrite logs a successful write against the store that served it.
func (l *RepoLogger) LogWrite(ctx context.Context, operation, store, id string) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.DebugContext(ctx, "repository write", l.attrs(ctx, operation, map[string]interface{}{
		"store": store,
		"id":    id,
	})...)
}

// LogFallback logs a primary failure that was served by the secondary store.
func (l *RepoLogger) LogFallback(ctx context.Context, operation string, err error) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.WarnContext(ctx, "primary store unavailable, using secondary",
		l.attrs(ctx, operation, map[string]interface{}{"error": err.Error()})...)
}

// LogMirrorFailure logs an asynchronous secondary write that did not land.
func (l *RepoLogger) LogMirrorFailure(ctx context.Context, operation, id string, err error) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.ErrorContext(ctx, "secondary mirror failed",
		l.attrs(ctx, operation, map[string]interface{}{"id": id, "error": err.Error()})...)
}

// LogRepair logs a primary write-back after a secondary hit.
func (l *RepoLogger) LogRepair(ctx context.Context, id string, err error) {
	if !Config.EnableRepoLogging {
		return
	}
	if err != nil {
		l.logger.WarnContext(ctx, "read repair failed",
			l.attrs(ctx, "repair", map[string]interface{}{"id": id, "error": err.Error()})...)
		return
	}
	l.logger.InfoContext(ctx, "read repair", l.attrs(ctx, "repair", map[string]interface{}{"id": id})...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.ErrorContext(ctx, "repository error",
		l.attrs(ctx, operation, map[string]interface{}{"error": err.Error()})...)
}

// WSLogger logs live channel activity for one component of the realtime
// path (presence, router, events).
type WSLogger struct {
	component string
	logger    *Logger
}

func NewWSLogger(component string) *WSLogger {
	return &WSLogger{component: component, logger: GlobalLogger}
}

func (l *WSLogger) emit(ctx context.Context, level slog.Level, msg, identity string, attrs ...slog.Attr) {
	if !Config.EnableWSLogging {
		return
	}
	base := []slog.Attr{slog.String("component", l.component)}
	if identity != "" {
		base = append(base, slog.String("identity", identity))
	}
	l.logger.LogAttrs(ctx, level, msg, append(base, attrs...)...)
}

// LogConnect records a channel registration. replaced is set when an older
// channel for the same identity was displaced.
func (l *WSLogger) LogConnect(ctx context.Context, identity string, replaced bool) {
	l.emit(ctx, slog.LevelInfo, "channel registered", identity, slog.Bool("replaced", replaced))
}

func (l *WSLogger) LogDisconnect(ctx context.Context, identity string, reason string) {
	l.emit(ctx, slog.LevelInfo, "channel removed", identity, slog.String("reason", reason))
}

func (l *WSLogger) LogError(ctx context.Context, identity string, err error, eventType string) {
	l.emit(ctx, slog.LevelError, "channel error", identity,
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogMessage records one event handed to a live channel. Debug only.
func (l *WSLogger) LogMessage(ctx context.Context, identity string, eventType string) {
	l.emit(ctx, slog.LevelDebug, "event delivered", identity, slog.String("event_type", eventType))
}

func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	attrs = append(attrs, slog.String("event", event))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.emit(ctx, slog.LevelInfo, "realtime lifecycle", "", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("request_id", ExtractRequestID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
