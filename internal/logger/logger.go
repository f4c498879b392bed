package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Handler is a slog handler with millisecond timestamps and short level tags.
// Format: 2024-01-15 14:30:45.123 [INF] message component=gateway key=value
type Handler struct {
	out   io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewHandler creates a new handler writing records at or above level to out.
func NewHandler(out io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}

	return &Handler{out: out, mu: &sync.Mutex{}, level: level}
}

// New returns a logger writing to out with the given minimum level.
func New(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(out, level))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(NewHandler(io.Discard, slog.LevelError+1))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}

	return l
}

// ParseLevel maps a flag value (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Enabled reports whether the level is at or above the configured minimum.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format("2006-01-02 15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts, levelString(r.Level), r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&b, a)
	}

	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h.writeAttr(&b, a)
		return true
	})

	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.out, b.String())

	return err
}

// WithAttrs returns a handler that prefixes every record with attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)

	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}

	return &next
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}

	return &next
}

// writeAttr appends " key=value" to b.
func (h *Handler) writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}

	fmt.Fprintf(b, " %s=%v", a.Key, a.Value)
}

// levelString returns a short string for the log level.
func levelString(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	default:
		return "ERR"
	}
}

// Timed returns elapsed time since start for logging duration.
func Timed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
