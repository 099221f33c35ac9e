// Package natsbus carries host state events and message-box commands over NATS.
//
// Subjects, for prefix "host" and namespace "iogo.0":
//
//	host.state.iogo.0.<id suffix>   state events; body {"val": ..., "ack": ...}, empty body = deleted
//	host.msg.iogo.0                 message-box commands for this relay
//	host.msg.<from>                 replies to senders that did not use a reply subject
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// Handler is the adapter surface the bus delivers to.
type Handler interface {
	Namespace() string
	HandleStateChange(ctx context.Context, id string, st *dispatch.State)
	HandleMessage(ctx context.Context, m adapter.Message) *adapter.Reply
}

type Bus struct {
	mu      sync.Mutex
	nc      *nats.Conn
	prefix  string
	handler Handler
	logger  *slog.Logger
	subs    []*nats.Subscription
	closed  chan struct{}
}

// New connects to the NATS server at natsURL.
func New(natsURL, prefix string, handler Handler, logger *slog.Logger) (*Bus, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(natsURL,
		nats.Name("go-push-relay:"+handler.Namespace()),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{
		closed:  closed,
		nc:      nc,
		prefix:  prefix,
		handler: handler,
		logger:  logger.With("component", "NATSBus"),
	}, nil
}

// StateSubject is the subject a state id is published on.
func StateSubject(prefix, id string) string {
	return prefix + ".state." + id
}

// MessageSubject is the message-box subject of a bus address.
func MessageSubject(prefix, address string) string {
	return prefix + ".msg." + address
}

// Start subscribes to the relay's state and message subjects.
// Handlers run with ctx until Stop.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns := b.handler.Namespace()
	statePrefix := StateSubject(b.prefix, "")

	stateSub, err := b.nc.Subscribe(StateSubject(b.prefix, ns+".>"), func(msg *nats.Msg) {
		id := strings.TrimPrefix(msg.Subject, statePrefix)
		st, err := decodeState(msg.Data)
		if err != nil {
			b.logger.Warn("Dropping malformed state event", "id", id, "err", err)
			return
		}
		b.handler.HandleStateChange(ctx, id, st)
	})
	if err != nil {
		return fmt.Errorf("subscribe state: %w", err)
	}
	b.subs = append(b.subs, stateSub)

	msgSub, err := b.nc.Subscribe(MessageSubject(b.prefix, ns), func(msg *nats.Msg) {
		var m adapter.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			b.logger.Warn("Dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		reply := b.handler.HandleMessage(ctx, m)
		if reply == nil {
			return
		}
		if err := b.respond(msg, reply); err != nil {
			b.logger.Error("Failed to send reply", "to", reply.To, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	b.subs = append(b.subs, msgSub)

	if err := b.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	b.logger.Info("Subscribed", "state", stateSub.Subject, "messages", msgSub.Subject)
	return nil
}

// respond prefers the NATS reply subject; otherwise it sends the reply to the
// sender's own message box, like the host's sendTo.
func (b *Bus) respond(msg *nats.Msg, reply *adapter.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	if msg.Reply != "" {
		return msg.Respond(data)
	}
	if reply.To == "" {
		return fmt.Errorf("reply has no destination")
	}
	return b.nc.Publish(MessageSubject(b.prefix, reply.To), data)
}

// Stop drains the subscriptions and returns once in-flight handlers have
// finished and the connection is closed, or when ctx is done.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.subs = nil
	nc := b.nc
	b.mu.Unlock()

	if nc == nil {
		return nil
	}
	if !nc.IsClosed() {
		if err := nc.Drain(); err != nil {
			nc.Close()
			return fmt.Errorf("drain nats connection: %w", err)
		}
	}

	select {
	case <-b.closed:
		return nil
	case <-ctx.Done():
		nc.Close()
		return fmt.Errorf("waiting for nats handlers: %w", ctx.Err())
	}
}

func decodeState(data []byte) (*dispatch.State, error) {
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		return nil, nil
	}
	var st dispatch.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
