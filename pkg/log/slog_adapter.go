package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as one structured record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.BindingID != "" {
		attrs = append(attrs, slog.String("binding_id", event.BindingID))
	}
	if event.Name != "" {
		attrs = append(attrs, slog.String("name", event.Name))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Uint64("msg_id", uint64(event.Message.MessageID)),
			slog.String("msg_type", event.Message.Type.String()),
		)
		if event.Message.Op != nil {
			attrs = append(attrs, slog.String("op", event.Message.Op.String()))
		}
		if event.Message.Addr != nil {
			attrs = append(attrs, slog.Int64("addr", *event.Message.Addr))
		}
		if event.Message.Count > 0 {
			attrs = append(attrs, slog.Int("count", int(event.Message.Count)))
		}
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
		if event.Message.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *event.Message.ProcessingTime))
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
	case event.IO != nil:
		attrs = append(attrs,
			slog.String("io", event.IO.Kind.String()),
			slog.Duration("duration", event.IO.Duration),
		)
		if event.IO.Err != "" {
			attrs = append(attrs, slog.String("error", event.IO.Err))
		} else {
			attrs = append(attrs, slog.Any("value", event.IO.Value))
		}
	case event.Batch != nil:
		attrs = append(attrs,
			slog.String("group", event.Batch.Group),
			slog.Int("core", event.Batch.Core),
			slog.Int64("addr", event.Batch.Addr),
			slog.Int("count", event.Batch.Count),
			slog.Bool("multi", event.Batch.Multi),
		)
		if event.Batch.Err != "" {
			attrs = append(attrs, slog.String("error", event.Batch.Err))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "event", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
