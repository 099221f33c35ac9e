package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// Handler is the adapter surface the pipeline routes events to.
type Handler interface {
	HandleStateChange(ctx context.Context, id string, st *dispatch.State)
	HandleMessage(ctx context.Context, m adapter.Message) *adapter.Reply
}

// ReplyPublisher sends a callback reply back to the host.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, reply *adapter.Reply) error
}

// NewProcessor routes decoded events to the adapter. A failed reply is logged
// and the event is still acked: the notification was already submitted and a
// redelivery would dispatch it again.
func NewProcessor(
	handler Handler,
	replies ReplyPublisher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[Event] {

	return func(ctx context.Context, original messagepipeline.Message, ev *Event) error {
		procLogger := logger.With("pubsub_msg_id", original.ID, "type", ev.Type)

		switch ev.Type {
		case EventStateChange:
			handler.HandleStateChange(ctx, ev.ID, ev.State)
		case EventMessage:
			reply := handler.HandleMessage(ctx, *ev.Message)
			if reply == nil {
				return nil
			}
			if replies == nil {
				procLogger.Warn("Callback requested but no reply topic is configured")
				return nil
			}
			if err := replies.PublishReply(ctx, reply); err != nil {
				procLogger.Error("Failed to publish reply", "to", reply.To, "err", err)
				return nil
			}
			procLogger.Debug("Reply published", "to", reply.To, "count", reply.Message)
		}
		return nil
	}
}
