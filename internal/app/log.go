package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogFileName is the file under the log directory every run appends to.
const LogFileName = "pv.log"

// pvHandler formats log records as one tab-separated line:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Groups are flattened into dotted keys.
type pvHandler struct {
	w      io.Writer
	opID   string
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

func (h *pvHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *pvHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	fmt.Fprintf(b, "\t%s%s=%v", prefix, a.Key, v)
}

func (h *pvHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *pvHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// newLogger opens logDir/pv.log for appending. When stderr is non-nil,
// records at Info and above are mirrored to it.
func newLogger(logDir, opID string, stderr io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var handler slog.Handler = &pvHandler{w: f, opID: opID}
	if stderr != nil {
		handler = &teeHandler{
			handlers: []slog.Handler{handler, &pvHandler{w: stderr, opID: opID, level: slog.LevelInfo}},
		}
	}
	return slog.New(handler), f, nil
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &teeHandler{handlers: make([]slog.Handler, len(t.handlers))}
	for i, h := range t.handlers {
		next.handlers[i] = h.WithAttrs(attrs)
	}
	return next
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := &teeHandler{handlers: make([]slog.Handler, len(t.handlers))}
	for i, h := range t.handlers {
		next.handlers[i] = h.WithGroup(name)
	}
	return next
}
