// Package adapter is the relay's side of the host plugin contract: it owns the
// recipient registry and the fan-out dispatcher and reacts to lifecycle,
// state-change and message-box events delivered by a bus transport.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-relay/internal/fanout"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// Registry initialization policies.
const (
	// PolicySnapshot restores the registry from the serialized users state
	// and rewrites it after every change.
	PolicySnapshot = "snapshot"
	// PolicyRescan rebuilds the registry from every persisted token state.
	PolicyRescan = "rescan"
)

type Config struct {
	// Namespace is <adapter>.<instance>, e.g. "iogo.0".
	Namespace  string
	InitPolicy string
	// Drain, when set, is called on Unload to wait for in-flight deliveries.
	Drain func(ctx context.Context) error
}

type Adapter struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher *fanout.Dispatcher
	store      dispatch.StateStore
	logger     *slog.Logger

	// stateMu orders registry changes with their snapshot writes, so a
	// stale snapshot never overwrites a newer one.
	stateMu sync.Mutex
}

func New(cfg Config, reg *registry.Registry, dispatcher *fanout.Dispatcher, store dispatch.StateStore, logger *slog.Logger) *Adapter {
	if cfg.InitPolicy == "" {
		cfg.InitPolicy = PolicySnapshot
	}
	return &Adapter{
		cfg:        cfg,
		registry:   reg,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger.With("component", "Adapter", "namespace", cfg.Namespace),
	}
}

// Namespace returns the adapter's <adapter>.<instance> prefix.
func (a *Adapter) Namespace() string {
	return a.cfg.Namespace
}

// Ready initializes the registry. Storage errors are logged, never returned:
// the relay keeps running with whatever it could load.
func (a *Adapter) Ready(ctx context.Context) {
	switch a.cfg.InitPolicy {
	case PolicyRescan:
		a.rescan(ctx)
	default:
		a.restoreSnapshot(ctx)
	}
	a.logger.Info("Registry initialized", "policy", a.cfg.InitPolicy, "recipients", a.registry.Len())
}

func (a *Adapter) restoreSnapshot(ctx context.Context) {
	st, ok, err := a.store.GetState(ctx, a.usersStateID())
	if err != nil {
		a.logger.Error("Failed to read stored user ids", "err", err)
		return
	}
	if !ok || st.Value() == "" {
		return
	}
	if err := a.registry.Deserialize(st.Value()); err != nil {
		a.logger.Error("Cannot parse stored user ids", "err", err)
	}
}

func (a *Adapter) rescan(ctx context.Context) {
	states, err := a.store.ScanStates(ctx, a.cfg.Namespace+".", registry.TokenSuffix)
	if err != nil {
		a.logger.Error("Failed to scan token states", "err", err)
		return
	}
	for id, st := range states {
		user, ok := registry.ParseTokenStateID(a.cfg.Namespace, id)
		if !ok || st.Value() == "" {
			continue
		}
		a.registry.Upsert(user, st.Value())
	}
}

// Unload waits for in-flight deliveries.
func (a *Adapter) Unload(ctx context.Context) error {
	var err error
	if a.cfg.Drain != nil {
		err = a.cfg.Drain(ctx)
	}
	a.logger.Info("cleaned everything up...")
	return err
}

// HandleStateChange applies a state event. A nil state means the state was deleted.
func (a *Adapter) HandleStateChange(ctx context.Context, id string, st *dispatch.State) {
	a.logger.Debug("stateChange", "id", id, "val", st.Value())

	user, ok := registry.ParseTokenStateID(a.cfg.Namespace, id)
	if !ok {
		return
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if token := st.Value(); token != "" {
		a.registry.Upsert(user, token)
		a.logger.Info("user added", "user", user)
	} else {
		a.registry.Remove(user)
		a.logger.Info("user removed", "user", user)
	}

	if st != nil && !st.Ack {
		a.logger.Debug("ack is not set", "id", id)
	}

	if a.cfg.InitPolicy == PolicySnapshot {
		a.persistSnapshot(ctx)
	}
}

func (a *Adapter) persistSnapshot(ctx context.Context) {
	data, err := a.registry.Serialize()
	if err != nil {
		a.logger.Error("Failed to serialize registry", "err", err)
		return
	}
	if err := a.store.SetState(ctx, a.usersStateID(), dispatch.StringState(data)); err != nil {
		a.logger.Error("Failed to store user ids", "err", err)
	}
}

// HandleMessage processes a message-box command. It returns a reply when the
// sender asked for one.
func (a *Adapter) HandleMessage(ctx context.Context, m Message) *Reply {
	if m.Command == "" {
		return nil
	}
	if m.Command != CommandSend {
		a.logger.Debug("Ignoring unknown command", "command", m.Command, "from", m.From)
		return nil
	}

	cmd, ok, err := decodeSend(m)
	if err != nil {
		a.logger.Warn("Invalid send message", "from", m.From, "err", errors.Join(dispatch.ErrInvalidCommand, err))
		return nil
	}
	if !ok {
		return nil
	}

	count := a.dispatcher.Dispatch(ctx, cmd)
	if !m.HasCallback() {
		return nil
	}
	return &Reply{
		To:       m.From,
		From:     a.cfg.Namespace,
		Command:  m.Command,
		Message:  count,
		Callback: m.Callback,
	}
}

// Send dispatches a command that did not arrive over the bus.
func (a *Adapter) Send(ctx context.Context, cmd fanout.Command) int {
	return a.dispatcher.Dispatch(ctx, cmd)
}

// SetToken stores a token state for user, as a device registering through
// the host would, and applies it.
func (a *Adapter) SetToken(ctx context.Context, user, token string) error {
	id := registry.TokenStateID(a.cfg.Namespace, user)
	st := dispatch.StringState(token)
	if err := a.store.SetState(ctx, id, st); err != nil {
		return fmt.Errorf("failed to store token for %s: %w", user, err)
	}
	a.HandleStateChange(ctx, id, &st)
	return nil
}

// DeleteToken removes the token state for user and applies the deletion.
func (a *Adapter) DeleteToken(ctx context.Context, user string) error {
	id := registry.TokenStateID(a.cfg.Namespace, user)
	if err := a.store.DeleteState(ctx, id); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", user, err)
	}
	a.HandleStateChange(ctx, id, nil)
	return nil
}

// Recipients lists the registered recipient names.
func (a *Adapter) Recipients() []string {
	return a.registry.Names()
}

func (a *Adapter) usersStateID() string {
	return a.cfg.Namespace + "." + registry.UsersStateID
}
