package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMSend(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	payload := dispatch.Payload{
		To:        "token-1",
		Recipient: "alice",
		Priority:  "high",
		Content:   notification.NotificationContent{Title: "Alarm", Body: "Window open"},
	}

	t.Run("Happy Path - message built from payload", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "token-1" &&
				msg.Notification.Title == "Alarm" &&
				msg.Notification.Body == "Window open" &&
				msg.Android.Priority == "high" &&
				msg.APNS.Headers["apns-priority"] == "10"
		})).Return("projects/p/messages/1", nil)

		require.NoError(t, dispatcher.Send(ctx, payload))
		mockClient.AssertExpectations(t)
	})

	t.Run("Normal priority", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		normal := payload
		normal.Priority = dispatch.DefaultPriority
		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Android.Priority == "normal" && msg.APNS.Headers["apns-priority"] == "5"
		})).Return("id", nil)

		require.NoError(t, dispatcher.Send(ctx, normal))
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		err := dispatcher.Send(ctx, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fcm send failed")
	})
}
