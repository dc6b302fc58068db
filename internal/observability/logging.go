// Package observability provides the structured logging, metrics, and
// tracing the rest of this module shares: log/slog plus a
// redaction-pattern and context-key layer, keyed on this domain's
// identifiers (thread/message/panelist).
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
)

// ContextKey is the type used for context-carried correlation IDs, kept
// distinct from string to avoid collisions with other packages' context
// keys.
type ContextKey string

const (
	ThreadIDKey   ContextKey = "thread_id"
	MessageIDKey  ContextKey = "message_id"
	PanelistIDKey ContextKey = "panelist_id"
	RequestIDKey  ContextKey = "request_id"
)

// DefaultRedactPatterns matches the secret shapes that could leak
// through a logged prompt, tool argument, or provider error message:
// provider API keys and bearer tokens.
var DefaultRedactPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{20,}`,
	`sk-[A-Za-z0-9_-]{20,}`,
	`(?i)bearer\s+[A-Za-z0-9._-]{10,}`,
	`(?i)api[_-]?key["':=\s]+[A-Za-z0-9._-]{10,}`,
}

// LogConfig configures a Logger.
type LogConfig struct {
	Level          slog.Level
	Format         string // "json" or "text"
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string
}

// DefaultLogConfig returns JSON logging at Info level to stderr with the
// default redaction patterns applied.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelInfo, Format: "json", Output: os.Stderr, RedactPatterns: DefaultRedactPatterns}
}

// Logger wraps *slog.Logger with secret redaction applied to every
// string-valued attribute before it reaches the underlying handler.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// NewLogger builds a Logger from cfg, filling zero-value fields from
// DefaultLogConfig.
func NewLogger(cfg LogConfig) *Logger {
	def := DefaultLogConfig()
	if cfg.Output == nil {
		cfg.Output = def.Output
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.RedactPatterns == nil {
		cfg.RedactPatterns = def.RedactPatterns
	}

	var compiled []*regexp.Regexp
	for _, p := range cfg.RedactPatterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, handlerOpts)
	}

	l := &Logger{redacts: compiled}
	l.logger = slog.New(&redactingHandler{next: handler, owner: l})
	return l
}

// With returns a Logger with the given correlation fields attached to
// every subsequent record, pulling them from ctx when present.
func (l *Logger) With(ctx context.Context) *slog.Logger {
	logger := l.logger
	for _, key := range []ContextKey{ThreadIDKey, MessageIDKey, PanelistIDKey, RequestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(string(key), v)
		}
	}
	return logger
}

// Slog returns the underlying *slog.Logger without context enrichment.
func (l *Logger) Slog() *slog.Logger { return l.logger }

func (l *Logger) redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// redactingHandler applies Logger.redact to every string attribute
// value before delegating to next.
type redactingHandler struct {
	next  slog.Handler
	owner *Logger
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, h.owner.redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(h.owner.redact(a.Value.String()))
		}
		redacted.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactingHandler{next: h.next.WithAttrs(attrs), owner: h.owner}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), owner: h.owner}
}

// WithThreadID returns a child context carrying threadID for Logger.With
// to pick up.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// WithMessageID returns a child context carrying messageID.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}
