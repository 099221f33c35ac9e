// Package rtdb delivers push payloads by writing them to a per-account
// message list in the Firebase Realtime Database, where the companion app
// picks them up.
package rtdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// MessagesRoot is the database node holding one message list per account.
const MessagesRoot = "messages"

// Writer defines the subset of the Realtime Database we use.
type Writer interface {
	Push(ctx context.Context, path string, v any) (string, error)
}

// UserResolver defines the subset of the Firebase Auth API we use.
// *auth.Client satisfies it.
type UserResolver interface {
	GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error)
}

// DatabaseWriter adapts *db.Client to Writer.
type DatabaseWriter struct {
	Client *db.Client
}

func (w DatabaseWriter) Push(ctx context.Context, path string, v any) (string, error) {
	ref, err := w.Client.NewRef(path).Push(ctx, v)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

// entry is the record written for each payload.
type entry struct {
	ID       string `json:"id"`
	To       string `json:"to"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Ts       int64  `json:"ts"`
}

type Dispatcher struct {
	writer Writer
	uid    string
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher signs in by resolving the account e-mail to its user id.
// A failed lookup is logged and leaves the dispatcher unauthenticated:
// every Send then fails with ErrBackendAuth.
func NewDispatcher(ctx context.Context, writer Writer, users UserResolver, email string, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		writer: writer,
		logger: logger.With("component", "RTDBDispatcher"),
		now:    time.Now,
	}

	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		d.logger.Error("Sign-in failed", "email", email, "err", fmt.Errorf("%w: %v", dispatch.ErrBackendAuth, err))
		return d
	}
	d.uid = user.UID
	d.logger.Info("Signed in", "uid", d.uid)
	return d
}

// Send appends the payload to messages/<uid>.
func (d *Dispatcher) Send(ctx context.Context, p dispatch.Payload) error {
	if d.uid == "" {
		return fmt.Errorf("%w: not signed in", dispatch.ErrBackendAuth)
	}

	e := entry{
		ID:       uuid.NewString(),
		To:       p.To,
		Priority: p.Priority,
		Title:    p.Content.Title,
		Body:     p.Content.Body,
		Ts:       d.now().UnixMilli(),
	}
	key, err := d.writer.Push(ctx, MessagesRoot+"/"+d.uid, e)
	if err != nil {
		return fmt.Errorf("realtime database write failed: %w", err)
	}
	d.logger.Debug("Message stored", "user", p.Recipient, "key", key)
	return nil
}
