package logger

import (
	"context"
	"io"
	"log/slog"
)

const reset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m",
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

// workerColors keeps each worker's lines visually apart on a shared console.
var workerColors = map[string]string{
	"node":   "\033[34m",
	"p2pool": "\033[35m",
	"xmrig":  "\033[93m",
	"proxy":  "\033[96m",
	"xvb":    "\033[92m",
}

// ColorTextHandler is a slog.TextHandler that prefixes the message with a
// coloured level and, for loggers bound to a worker, a coloured worker tag.
type ColorTextHandler struct {
	*slog.TextHandler
	worker string
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	prefix := r.Level.String()
	if c, ok := levelColors[r.Level]; ok {
		prefix = c + prefix + reset
	}
	if h.worker != "" {
		tag := "[" + h.worker + "]"
		if c, ok := workerColors[h.worker]; ok {
			tag = c + tag + reset
		}
		prefix += " " + tag
	}
	r.Message = prefix + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	worker := h.worker
	for _, a := range attrs {
		if a.Key == "worker" {
			worker = a.Value.String()
		}
	}
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler), worker: worker}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler), worker: h.worker}
}
