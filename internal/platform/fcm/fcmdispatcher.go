// Package fcm delivers push payloads through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Send delivers one payload to its device token.
func (d *Dispatcher) Send(ctx context.Context, p dispatch.Payload) error {
	msg := &messaging.Message{
		Token: p.To,
		Notification: &messaging.Notification{
			Title: p.Content.Title,
			Body:  p.Content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority(p.Priority),
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority(p.Priority)},
		},
	}

	id, err := d.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			return fmt.Errorf("%w: %v", dispatch.ErrTokenExpired, err)
		}
		if messaging.IsThirdPartyAuthError(err) || messaging.IsSenderIDMismatch(err) {
			return fmt.Errorf("%w: %v", dispatch.ErrBackendAuth, err)
		}
		return fmt.Errorf("fcm send failed: %w", err)
	}

	d.logger.Debug("FCM accepted message", "user", p.Recipient, "message_id", id)
	return nil
}

func androidPriority(priority string) string {
	if priority == "high" {
		return "high"
	}
	return "normal"
}

func apnsPriority(priority string) string {
	if priority == "high" {
		return "10"
	}
	return "5"
}
