package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestSend_Internal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	p := dispatch.Payload{
		To:        "token-1",
		Recipient: "alice",
		Priority:  "high",
		Content:   notification.NotificationContent{Title: "Hello iOS", Body: "Garage open"},
	}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", ctx, mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app" && n.Priority == apns2.PriorityHigh
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		require.NoError(t, dispatcher.Send(ctx, p))
		mockClient.AssertExpectations(t)
	})

	t.Run("Bad Device Token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", ctx, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil)

		err := dispatcher.Send(ctx, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrTokenExpired)
	})

	t.Run("Provider token rejected", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", ctx, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusForbidden,
			Reason:     apns2.ReasonInvalidProviderToken,
		}, nil)

		err := dispatcher.Send(ctx, p)
		assert.ErrorIs(t, err, dispatch.ErrBackendAuth)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", ctx, mock.Anything).Return(nil, errors.New("connection reset"))

		err := dispatcher.Send(ctx, p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apns transport failed")
	})
}

func TestNewDispatcher_BadKey(t *testing.T) {
	_, err := NewDispatcher(Config{P8KeyContent: "not a key"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrBackendAuth)
}
