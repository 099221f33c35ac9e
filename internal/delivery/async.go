// Package delivery turns a synchronous push backend into the fire-and-forget
// submitter used by the fan-out dispatcher.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// DefaultSendTimeout bounds a single backend submission.
const DefaultSendTimeout = 10 * time.Second

// Async submits payloads to a Sender in the background.
// Failures are logged and dropped; there is no retry.
type Async struct {
	sender  dispatch.Sender
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAsync(sender dispatch.Sender, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Async{
		sender:  sender,
		timeout: timeout,
		logger:  logger.With("component", "AsyncSubmitter"),
	}
}

// Submit starts the send and returns immediately. It returns false only once
// the submitter has been closed.
func (a *Async) Submit(ctx context.Context, p dispatch.Payload) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("Submitter closed, dropping message", "user", p.Recipient)
		return false
	}
	a.wg.Add(1)
	a.mu.Unlock()

	// The caller's context usually ends with the inbound request.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	go func() {
		defer a.wg.Done()
		defer cancel()

		if err := a.sender.Send(sendCtx, p); err != nil {
			a.logger.Error("Cannot send message",
				"user", p.Recipient,
				"err", fmt.Errorf("%w: %w", dispatch.ErrBackendDelivery, err),
			)
			return
		}
		a.logger.Debug("Message sent", "user", p.Recipient)
	}()
	return true
}

// Close stops accepting payloads and waits for in-flight sends,
// or until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight sends: %w", ctx.Err())
	}
}

// Unavailable is a Sender for a backend that could not be initialized.
// Every Send fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) Send(context.Context, dispatch.Payload) error {
	if u.Err == nil {
		return errors.New("push backend unavailable")
	}
	return u.Err
}

// LogSender writes payloads to the log instead of a push backend.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, p dispatch.Payload) error {
	s.Logger.Info("Push notification",
		"user", p.Recipient,
		"priority", p.Priority,
		"title", p.Content.Title,
		"body", p.Content.Body,
	)
	return nil
}
