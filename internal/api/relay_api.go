// Package api exposes the relay's REST surface.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-relay/internal/fanout"
)

// Relay is the adapter surface used by the API.
type Relay interface {
	Send(ctx context.Context, cmd fanout.Command) int
	SetToken(ctx context.Context, user, token string) error
	DeleteToken(ctx context.Context, user string) error
	Recipients() []string
}

type RelayAPI struct {
	Relay  Relay
	Logger *slog.Logger
}

func NewRelayAPI(relay Relay, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Relay:  relay,
		Logger: logger,
	}
}

type SendRequest struct {
	Text     string `json:"text"`
	User     string `json:"user,omitempty"`
	Priority string `json:"priority,omitempty"`
	Title    string `json:"title,omitempty"`
}

type SendResponse struct {
	Count int `json:"count"`
}

type TokenRequest struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

type RecipientsResponse struct {
	Recipients []string `json:"recipients"`
}

// Send fans a notification out to the named recipients, or to everyone when
// no user is given. The caller's identity is the sender.
func (api *RelayAPI) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Text == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing text")
		return
	}

	count := api.Relay.Send(ctx, fanout.Command{
		Sender:     sender,
		Text:       req.Text,
		Recipients: req.User,
		Options:    &fanout.Options{Priority: req.Priority, Title: req.Title},
	})
	api.Logger.Debug("Send: dispatched", "sender", sender, "count", count)

	writeJSON(w, http.StatusOK, SendResponse{Count: count})
}

// PutToken registers or replaces the token of a recipient.
func (api *RelayAPI) PutToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validName(req.User) {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid user")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Relay.SetToken(ctx, req.User, req.Token); err != nil {
		api.Logger.Error("failed to store token", "user", req.User, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("PutToken: token registered", "user", req.User)

	w.WriteHeader(http.StatusNoContent)
}

// DeleteToken unregisters a recipient. Unknown recipients are not an error.
func (api *RelayAPI) DeleteToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user := r.PathValue("user")
	if !validName(user) {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid user")
		return
	}

	if err := api.Relay.DeleteToken(ctx, user); err != nil {
		api.Logger.Warn("failed to delete token", "user", user, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *RelayAPI) ListRecipients(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserHandleFromContext(r.Context()); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	names := api.Relay.Recipients()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, RecipientsResponse{Recipients: names})
}

// validName rejects names a send command could never address: recipient
// lists are split on commas after whitespace is stripped.
func validName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsFunc(name, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
