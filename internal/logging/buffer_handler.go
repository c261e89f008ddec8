package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// bufferHandler tees records into the global log buffer so the
// log-retrieval API sees entries regardless of the output format.
// ConsoleHandler mirrors on its own; JSON output is wrapped with this.
type bufferHandler struct {
	inner slog.Handler
	attrs []slog.Attr
}

func newBufferHandler(inner slog.Handler) *bufferHandler {
	return &bufferHandler{inner: inner}
}

func (h *bufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *bufferHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := ""
	extra := make(map[string]string)
	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
			continue
		}
		extra[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return true
		}
		extra[a.Key] = a.Value.String()
		return true
	})

	source := "system"
	if component != "" {
		source = strings.ToLower(component)
	}

	GetLogBuffer().Add(Entry{
		Timestamp: t,
		Level:     LevelString(r.Level),
		Source:    source,
		Message:   r.Message,
		Extra:     extra,
	})

	return err
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &bufferHandler{
		inner: h.inner.WithAttrs(attrs),
		attrs: merged,
	}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	return &bufferHandler{
		inner: h.inner.WithGroup(name),
		attrs: h.attrs,
	}
}
