// Package pipeline carries host bus events over Google Pub/Sub using a
// go-dataflow streaming service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

const (
	EventStateChange = "stateChange"
	EventMessage     = "message"
)

// Event is the envelope published on the relay's subscription.
//
//	{"type": "stateChange", "id": "iogo.0.alice.token", "state": {"val": "tok"}}
//	{"type": "message", "message": {"command": "send", "message": "hi", "from": "..."}}
//
// A stateChange without state means the state was deleted.
type Event struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	State   *dispatch.State  `json:"state,omitempty"`
	Message *adapter.Message `json:"message,omitempty"`
}

// EventTransformer decodes and validates an Event. Invalid envelopes are
// skipped so the subscription's dead-letter policy takes over.
func EventTransformer(_ context.Context, msg *messagepipeline.Message) (*Event, bool, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal event from message %s: %w", msg.ID, err)
	}

	switch ev.Type {
	case EventStateChange:
		if ev.ID == "" {
			return nil, true, fmt.Errorf("state change in message %s has no id", msg.ID)
		}
	case EventMessage:
		if ev.Message == nil {
			return nil, true, fmt.Errorf("message event %s has no message", msg.ID)
		}
	default:
		return nil, true, fmt.Errorf("unknown event type %q in message %s", ev.Type, msg.ID)
	}
	return &ev, false, nil
}
