package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/fanout"
)

// --- Mocks ---
type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Send(ctx context.Context, cmd fanout.Command) int {
	return m.Called(ctx, cmd).Int(0)
}
func (m *MockRelay) SetToken(ctx context.Context, user, token string) error {
	return m.Called(ctx, user, token).Error(0)
}
func (m *MockRelay) DeleteToken(ctx context.Context, user string) error {
	return m.Called(ctx, user).Error(0)
}
func (m *MockRelay) Recipients() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.RelayAPI, *MockRelay) {
	t.Helper()
	mockRelay := new(MockRelay)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewRelayAPI(mockRelay, logger), mockRelay
}

func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), userID, userID, "")
	return req.WithContext(ctx)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

// --- Tests ---

func TestSend(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/send", jsonBody(t, api.SendRequest{
			Text: "door open", User: "alice,bob", Priority: "high",
		})), "owner")
		w := httptest.NewRecorder()

		expected := fanout.Command{
			Sender:     "owner",
			Text:       "door open",
			Recipients: "alice,bob",
			Options:    &fanout.Options{Priority: "high"},
		}
		mockRelay.On("Send", mock.Anything, expected).Return(2)

		apiHandler.Send(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp api.SendResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		mockRelay.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		req := httptest.NewRequest("POST", "/api/v1/send", jsonBody(t, api.SendRequest{Text: "x"}))
		w := httptest.NewRecorder()

		apiHandler.Send(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockRelay.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Empty Text", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/send", jsonBody(t, api.SendRequest{User: "alice"})), "owner")
		w := httptest.NewRecorder()

		apiHandler.Send(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockRelay.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Invalid JSON", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/send", bytes.NewReader([]byte("{"))), "owner")
		w := httptest.NewRecorder()

		apiHandler.Send(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPutToken(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		req := withUser(httptest.NewRequest("PUT", "/api/v1/tokens", jsonBody(t, api.TokenRequest{User: "alice", Token: "tokA"})), "owner")
		w := httptest.NewRecorder()

		mockRelay.On("SetToken", mock.Anything, "alice", "tokA").Return(nil)

		apiHandler.PutToken(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockRelay.AssertExpectations(t)
	})

	testCases := []struct {
		name string
		body api.TokenRequest
	}{
		{name: "Rejects Empty Token", body: api.TokenRequest{User: "alice"}},
		{name: "Rejects Empty User", body: api.TokenRequest{Token: "tok"}},
		{name: "Rejects User With Comma", body: api.TokenRequest{User: "a,b", Token: "tok"}},
		{name: "Rejects User With Space", body: api.TokenRequest{User: "a b", Token: "tok"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apiHandler, mockRelay := setupAPI(t)
			req := withUser(httptest.NewRequest("PUT", "/api/v1/tokens", jsonBody(t, tc.body)), "owner")
			w := httptest.NewRecorder()

			apiHandler.PutToken(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockRelay.AssertNotCalled(t, "SetToken", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Storage Failure", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		req := withUser(httptest.NewRequest("PUT", "/api/v1/tokens", jsonBody(t, api.TokenRequest{User: "alice", Token: "tokA"})), "owner")
		w := httptest.NewRecorder()

		mockRelay.On("SetToken", mock.Anything, "alice", "tokA").Return(errors.New("redis down"))

		apiHandler.PutToken(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestDeleteToken(t *testing.T) {
	newRequest := func(user string) *http.Request {
		req := httptest.NewRequest("DELETE", "/api/v1/tokens/"+user, nil)
		req.SetPathValue("user", user)
		return withUser(req, "owner")
	}

	t.Run("Success", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		w := httptest.NewRecorder()
		mockRelay.On("DeleteToken", mock.Anything, "alice").Return(nil)

		apiHandler.DeleteToken(w, newRequest("alice"))

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockRelay.AssertExpectations(t)
	})

	t.Run("Storage Failure", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		w := httptest.NewRecorder()
		mockRelay.On("DeleteToken", mock.Anything, "alice").Return(errors.New("gone"))

		apiHandler.DeleteToken(w, newRequest("alice"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestListRecipients(t *testing.T) {
	t.Run("Lists Names", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		mockRelay.On("Recipients").Return([]string{"alice", "bob"})
		w := httptest.NewRecorder()

		apiHandler.ListRecipients(w, withUser(httptest.NewRequest("GET", "/api/v1/recipients", nil), "owner"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"recipients":["alice","bob"]}`, w.Body.String())
	})

	t.Run("Empty Registry", func(t *testing.T) {
		apiHandler, mockRelay := setupAPI(t)
		mockRelay.On("Recipients").Return(nil)
		w := httptest.NewRecorder()

		apiHandler.ListRecipients(w, withUser(httptest.NewRequest("GET", "/api/v1/recipients", nil), "owner"))

		assert.JSONEq(t, `{"recipients":[]}`, w.Body.String())
	})
}
