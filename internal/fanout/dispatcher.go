// Package fanout resolves send commands against the recipient registry and
// submits one push payload per resolved recipient.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/internal/registry"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

const (
	// DefaultWindow suppresses an identical command arriving this soon after the previous one.
	DefaultWindow = 1200 * time.Millisecond

	// DefaultTitle is used when a command carries no title option.
	DefaultTitle = "New notification"
)

// Options are the optional per-message settings of a send command.
type Options struct {
	Priority string `json:"priority,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Command is a single "send" request.
type Command struct {
	// Sender is the bus address of the originator.
	Sender string `json:"from,omitempty"`
	Text   string `json:"text"`
	// Recipients is a comma separated list of names. Empty means broadcast.
	Recipients string   `json:"user,omitempty"`
	Options    *Options `json:"options,omitempty"`
}

// Dispatcher fans a Command out to the registered recipients.
type Dispatcher struct {
	registry  *registry.Registry
	submitter dispatch.Submitter
	logger    *slog.Logger

	window       time.Duration
	defaultTitle string
	now          func() time.Time

	mu            sync.Mutex
	lastSignature string
	lastAccepted  time.Time
}

type Option func(*Dispatcher)

// WithWindow overrides the duplicate suppression window.
func WithWindow(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.window = d }
}

// WithDefaultTitle overrides the title used when a command has none.
func WithDefaultTitle(title string) Option {
	return func(disp *Dispatcher) {
		if title != "" {
			disp.defaultTitle = title
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

func NewDispatcher(reg *registry.Registry, submitter dispatch.Submitter, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:     reg,
		submitter:    submitter,
		logger:       logger.With("component", "FanoutDispatcher"),
		window:       DefaultWindow,
		defaultTitle: DefaultTitle,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers cmd and returns the number of attempted submissions.
// The count does not confirm delivery; backends complete asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) int {
	if cmd.Text == "" && cmd.Options == nil {
		d.logger.Warn("Invalid text: null", "err", dispatch.ErrInvalidCommand)
		return 0
	}

	if !d.accept(cmd) {
		return 0
	}

	if cmd.Recipients == "" {
		count := 0
		for name, token := range d.registry.All() {
			count += d.deliver(ctx, token, name, cmd.Text, cmd.Options)
		}
		return count
	}

	d.logger.Debug("Resolving recipients", "user", cmd.Recipients)
	names := splitRecipients(cmd.Recipients)
	count, matches := 0, 0
	for _, name := range names {
		token, ok := d.registry.Resolve(name)
		if !ok {
			continue
		}
		matches++
		count += d.deliver(ctx, token, name, cmd.Text, cmd.Options)
	}
	if unknown := len(names) - matches; unknown > 0 {
		d.logger.Warn("Recipients are unknown",
			"unknown", unknown,
			"total", len(names),
			"err", dispatch.ErrUnknownRecipient,
		)
	}
	return count
}

// accept runs the duplicate gate and records cmd as the last accepted command.
func (d *Dispatcher) accept(cmd Command) bool {
	sig, err := json.Marshal(cmd)
	if err != nil {
		// Command only holds strings; fall back to accepting without dedup.
		d.logger.Error("Failed to compute command signature", "err", err)
		return true
	}
	signature := string(sig)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastAccepted.IsZero() && d.lastSignature == signature {
		if elapsed := now.Sub(d.lastAccepted); elapsed < d.window {
			d.logger.Debug("Filter out double message", "first_was_ms", elapsed.Milliseconds(), "signature", signature)
			return false
		}
	}
	d.lastSignature = signature
	d.lastAccepted = now
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, token, name, text string, opts *Options) int {
	if token == "" {
		return 0
	}
	d.logger.Debug("Send message", "user", name, "text", text)

	p := dispatch.Payload{
		To:        token,
		Recipient: name,
		Priority:  dispatch.DefaultPriority,
		Content: notification.NotificationContent{
			Title: d.defaultTitle,
			Body:  text,
		},
	}
	if opts != nil {
		if opts.Priority != "" {
			p.Priority = opts.Priority
		}
		if opts.Title != "" {
			p.Content.Title = opts.Title
		}
	}

	if !d.submitter.Submit(ctx, p) {
		return 0
	}
	return 1
}

// splitRecipients removes all whitespace and splits on commas.
// Order and duplicates are preserved.
func splitRecipients(s string) []string {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Split(compact, ",")
}
