// Package web delivers push payloads to browsers through the Web Push protocol (VAPID).
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the client used to reach push services.
func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.httpClient = c
	return d
}

// Send treats the payload token as a JSON encoded browser PushSubscription
// ({"endpoint": ..., "keys": {"p256dh": ..., "auth": ...}}).
func (d *Dispatcher) Send(ctx context.Context, p dispatch.Payload) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(p.To), &sub); err != nil {
		return fmt.Errorf("%w: token is not a push subscription: %v", dispatch.ErrTokenExpired, err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("%w: subscription has no endpoint", dispatch.ErrTokenExpired)
	}

	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": p.Content.Title,
			"body":  p.Content.Body,
		},
		"priority": p.Priority,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		Urgency:         urgency(p.Priority),
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return fmt.Errorf("webpush transport error: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		d.logger.Debug("WebPush accepted", "user", p.Recipient, "status", resp.StatusCode)
		return nil
	case http.StatusGone, http.StatusNotFound:
		return fmt.Errorf("%w: push service returned %d", dispatch.ErrTokenExpired, resp.StatusCode)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: push service returned %d", dispatch.ErrBackendAuth, resp.StatusCode)
	default:
		return fmt.Errorf("webpush rejected with status %d", resp.StatusCode)
	}
}

func urgency(priority string) webpush.Urgency {
	if priority == "high" {
		return webpush.UrgencyHigh
	}
	return webpush.UrgencyNormal
}
