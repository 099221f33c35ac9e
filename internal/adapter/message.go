package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-relay/internal/fanout"
)

// CommandSend is the only message-box command the relay understands.
const CommandSend = "send"

// Message is a message-box command delivered by the host bus.
type Message struct {
	Command string `json:"command"`
	// Message is either a plain text (string or number) or an object
	// {"text", "user", "priority", "title"}.
	Message  json.RawMessage `json:"message,omitempty"`
	From     string          `json:"from,omitempty"`
	Callback json.RawMessage `json:"callback,omitempty"`
}

// Reply answers a Message that carried a callback.
type Reply struct {
	// To is the bus address of the original sender.
	To       string          `json:"-"`
	From     string          `json:"from"`
	Command  string          `json:"command"`
	Message  int             `json:"message"`
	Callback json.RawMessage `json:"callback,omitempty"`
}

// HasCallback reports whether the sender expects a reply.
func (m Message) HasCallback() bool {
	return !isFalsy(bytes.TrimSpace(m.Callback))
}

type structuredMessage struct {
	Text     json.RawMessage `json:"text"`
	User     string          `json:"user"`
	Priority string          `json:"priority"`
	Title    string          `json:"title"`
}

// decodeSend turns the message payload into a fan-out command.
// It reports false when the payload is missing or falsy ("", 0, false, null).
func decodeSend(m Message) (fanout.Command, bool, error) {
	raw := bytes.TrimSpace(m.Message)
	if isFalsy(raw) {
		return fanout.Command{}, false, nil
	}

	cmd := fanout.Command{Sender: m.From}
	switch raw[0] {
	case '{':
		var sm structuredMessage
		if err := json.Unmarshal(raw, &sm); err != nil {
			return fanout.Command{}, false, fmt.Errorf("invalid message object: %w", err)
		}
		text, err := textOf(sm.Text)
		if err != nil {
			return fanout.Command{}, false, err
		}
		cmd.Text = text
		cmd.Recipients = sm.User
		cmd.Options = &fanout.Options{Priority: sm.Priority, Title: sm.Title}
	case '[':
		return fanout.Command{}, false, fmt.Errorf("invalid message: arrays are not supported")
	default:
		text, err := textOf(raw)
		if err != nil {
			return fanout.Command{}, false, err
		}
		cmd.Text = text
	}
	return cmd, true, nil
}

// textOf normalizes a JSON scalar to its string form.
func textOf(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid text: %w", err)
		}
		return s, nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", fmt.Errorf("invalid text: expected a string or number")
	}
	// numbers and booleans keep their literal form
	return string(raw), nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func isFalsy(raw []byte) bool {
	if isEmptyJSON(raw) {
		return true
	}
	switch string(raw) {
	case `""`, "false", "0", "0.0", "-0":
		return true
	}
	return false
}
