// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewDispatcher parses the P8 key immediately to fail fast on bad credentials.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse APNs P8 key: %v", dispatch.ErrBackendAuth, err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newDispatcher(client, cfg.BundleID, logger), nil
}

func newDispatcher(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Send pushes one payload. The payload token is an APNs device token.
func (d *Dispatcher) Send(ctx context.Context, p dispatch.Payload) error {
	n := &apns2.Notification{
		DeviceToken: p.To,
		Topic:       d.topic,
		Payload: payload.NewPayload().
			AlertTitle(p.Content.Title).
			AlertBody(p.Content.Body).
			Sound("default"),
		Priority: apns2.PriorityLow,
	}
	if p.Priority == "high" {
		n.Priority = apns2.PriorityHigh
	}

	res, err := d.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		d.logger.Debug("APNs accepted notification", "user", p.Recipient, "apns_id", res.ApnsID)
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("%w: %s", dispatch.ErrTokenExpired, res.Reason)
	case apns2.ReasonInvalidProviderToken, apns2.ReasonExpiredProviderToken, apns2.ReasonMissingProviderToken:
		return fmt.Errorf("%w: %s", dispatch.ErrBackendAuth, res.Reason)
	default:
		return fmt.Errorf("apns rejected notification: status=%d reason=%s", res.StatusCode, res.Reason)
	}
}
