package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan, debug and below
	}
}

// ColorTextHandler is a slog.TextHandler that prefixes each message with its
// colorized level, which keeps warnings and errors visible in the stream of
// forwarded service output.
type ColorTextHandler struct {
	*slog.TextHandler
	colored bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, colored bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		colored:     colored,
	}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.colored {
		r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	}
	return h.TextHandler.Handle(ctx, r)
}
