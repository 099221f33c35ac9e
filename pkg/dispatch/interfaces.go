package dispatch

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// DefaultPriority is used when a send command carries no priority option.
const DefaultPriority = "normal"

// Payload is a single push notification addressed to one device token.
type Payload struct {
	To        string                           `json:"to"`
	Recipient string                           `json:"-"`
	Priority  string                           `json:"priority"`
	Content   notification.NotificationContent `json:"notification"`
}

// Sender defines the contract for a push backend (FCM, Realtime Database,
// Web Push, APNs). Send blocks until the backend accepted or rejected the payload.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// Submitter hands a payload to a backend without waiting for the outcome.
// It reports whether the submission was attempted.
type Submitter interface {
	Submit(ctx context.Context, p Payload) bool
}

// State is a single value in the host's state storage.
// A nil Val means the state was cleared.
type State struct {
	Val *string   `json:"val"`
	Ack bool      `json:"ack"`
	Ts  time.Time `json:"ts"`
}

// Value returns the state value, or "" when cleared.
func (s *State) Value() string {
	if s == nil || s.Val == nil {
		return ""
	}
	return *s.Val
}

// StringState builds an acknowledged state holding v.
func StringState(v string) State {
	return State{Val: &v, Ack: true, Ts: time.Now()}
}

// StateStore defines the contract for the host's state storage.
// It lets the relay persist its recipient snapshot and rescan token states on startup.
type StateStore interface {
	// GetState returns the state for id. The bool is false when no state exists.
	GetState(ctx context.Context, id string) (State, bool, error)

	// SetState creates or overwrites the state for id.
	SetState(ctx context.Context, id string, st State) error

	// DeleteState removes the state for id. Missing ids are not an error.
	DeleteState(ctx context.Context, id string) error

	// ScanStates returns every state whose id starts with prefix and ends with suffix.
	ScanStates(ctx context.Context, prefix, suffix string) (map[string]State, error)
}
