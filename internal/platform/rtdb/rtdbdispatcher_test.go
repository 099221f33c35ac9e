package rtdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rtdb"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Push(ctx context.Context, path string, v any) (string, error) {
	args := m.Called(ctx, path, v)
	return args.String(0), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.UserRecord), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRTDBSend(t *testing.T) {
	ctx := context.Background()
	p := dispatch.Payload{
		To:        "tokA",
		Recipient: "alice",
		Priority:  "normal",
		Content:   notification.NotificationContent{Title: "News", Body: "hi"},
	}

	t.Run("Writes under the signed-in account", func(t *testing.T) {
		users := new(mockUsers)
		writer := new(mockWriter)
		users.On("GetUserByEmail", ctx, "home@example.com").
			Return(&auth.UserRecord{UserInfo: &auth.UserInfo{UID: "uid-42"}}, nil)
		writer.On("Push", ctx, "messages/uid-42", mock.Anything).Return("-Nabc", nil)

		d := rtdb.NewDispatcher(ctx, writer, users, "home@example.com", newTestLogger())
		require.NoError(t, d.Send(ctx, p))

		writer.AssertExpectations(t)
		written := toMap(t, writer.Calls[0].Arguments.Get(2))
		assert.Equal(t, "tokA", written["to"])
		assert.Equal(t, "News", written["title"])
		assert.Equal(t, "hi", written["body"])
		assert.Equal(t, "normal", written["priority"])
		assert.NotEmpty(t, written["id"])
	})

	t.Run("Sign-in failure makes every send fail", func(t *testing.T) {
		users := new(mockUsers)
		writer := new(mockWriter)
		users.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, errors.New("user not found"))

		d := rtdb.NewDispatcher(ctx, writer, users, "nobody@example.com", newTestLogger())
		err := d.Send(ctx, p)

		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrBackendAuth)
		writer.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Write failure", func(t *testing.T) {
		users := new(mockUsers)
		writer := new(mockWriter)
		users.On("GetUserByEmail", ctx, "home@example.com").
			Return(&auth.UserRecord{UserInfo: &auth.UserInfo{UID: "uid-42"}}, nil)
		writer.On("Push", ctx, "messages/uid-42", mock.Anything).Return("", errors.New("permission denied"))

		d := rtdb.NewDispatcher(ctx, writer, users, "home@example.com", newTestLogger())
		err := d.Send(ctx, p)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "realtime database write failed")
	})
}

func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	out := make(map[string]any)
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}
