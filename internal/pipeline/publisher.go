package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
)

// AttrReplyTo carries the host address the reply is meant for.
const AttrReplyTo = "to"

// PubsubReplyPublisher publishes replies on a Pub/Sub topic.
type PubsubReplyPublisher struct {
	publisher *pubsub.Publisher
}

func NewPubsubReplyPublisher(client *pubsub.Client, topicID string) *PubsubReplyPublisher {
	return &PubsubReplyPublisher{publisher: client.Publisher(topicID)}
}

func (p *PubsubReplyPublisher) PublishReply(ctx context.Context, reply *adapter.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrReplyTo: reply.To,
			"reply_id":  uuid.NewString(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}

// Stop flushes pending replies.
func (p *PubsubReplyPublisher) Stop() {
	p.publisher.Stop()
}
