package dispatch

import "errors"

var (
	// ErrInvalidCommand is reported when a send command has no text and no options.
	ErrInvalidCommand = errors.New("invalid command: empty text")

	// ErrUnknownRecipient is reported when a named recipient has no registered token.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrBackendAuth is reported when the push backend rejected our credentials.
	ErrBackendAuth = errors.New("push backend authentication failed")

	// ErrBackendDelivery wraps a per-message submission failure.
	ErrBackendDelivery = errors.New("push backend delivery failed")

	// ErrTokenExpired is returned by senders when the backend reports the token as gone.
	ErrTokenExpired = errors.New("device token expired")

	// ErrStateCorrupt is reported when a persisted recipient snapshot cannot be decoded.
	ErrStateCorrupt = errors.New("persisted state corrupt")
)
