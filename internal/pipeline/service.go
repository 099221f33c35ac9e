package pipeline

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// NewStreamingService wires the event transformer and processor onto a
// consumer.
func NewStreamingService(
	consumer messagepipeline.MessageConsumer,
	handler Handler,
	replies ReplyPublisher,
	numWorkers int,
	logger *slog.Logger,
) (*messagepipeline.StreamingService[Event], error) {
	return messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: numWorkers},
		consumer,
		EventTransformer,
		NewProcessor(handler, replies, logger),
		logger,
	)
}
