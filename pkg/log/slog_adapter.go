package log

import (
	"context"
	"log/slog"
)

// SlogAdapter renders protocol events as slog records at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter returns an adapter writing to logger, or slog.Default()
// when logger is nil.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	cp := *a
	cp.level = level
	return &cp
}

// Log writes event as a single "protocol" record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
		if event.Frame.Oversized {
			attrs = append(attrs, slog.Bool("oversized", true))
		}
	case event.Envelope != nil:
		attrs = append(attrs,
			slog.String("cmd", event.Envelope.Cmd),
			slog.String("data", event.Envelope.Data),
		)
		if event.Envelope.Host != "" {
			attrs = append(attrs, slog.String("host", event.Envelope.Host))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), a.level, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
