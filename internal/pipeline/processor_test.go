package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/adapter"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleStateChange(ctx context.Context, id string, st *dispatch.State) {
	m.Called(ctx, id, st)
}

func (m *mockHandler) HandleMessage(ctx context.Context, msg adapter.Message) *adapter.Reply {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*adapter.Reply)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReply(ctx context.Context, reply *adapter.Reply) error {
	return m.Called(ctx, reply).Error(0)
}

func TestProcessor_Routing(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("State change reaches the adapter", func(t *testing.T) {
		handler := new(mockHandler)
		publisher := new(mockPublisher)
		state := dispatch.StringState("tokA")
		st := &state
		handler.On("HandleStateChange", mock.Anything, "iogo.0.alice.token", st).Return()

		processor := pipeline.NewProcessor(handler, publisher, logger)
		err := processor(ctx, original, &pipeline.Event{Type: pipeline.EventStateChange, ID: "iogo.0.alice.token", State: st})

		require.NoError(t, err)
		handler.AssertExpectations(t)
		publisher.AssertNotCalled(t, "PublishReply", mock.Anything, mock.Anything)
	})

	t.Run("Message with callback publishes the reply", func(t *testing.T) {
		handler := new(mockHandler)
		publisher := new(mockPublisher)
		msg := adapter.Message{Command: "send", Message: json.RawMessage(`"hi"`), From: "javascript.0", Callback: json.RawMessage(`{"id":1}`)}
		reply := &adapter.Reply{To: "javascript.0", From: "iogo.0", Command: "send", Message: 2, Callback: msg.Callback}
		handler.On("HandleMessage", mock.Anything, msg).Return(reply)
		publisher.On("PublishReply", mock.Anything, reply).Return(nil)

		processor := pipeline.NewProcessor(handler, publisher, logger)
		err := processor(ctx, original, &pipeline.Event{Type: pipeline.EventMessage, Message: &msg})

		require.NoError(t, err)
		handler.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("Message without callback publishes nothing", func(t *testing.T) {
		handler := new(mockHandler)
		publisher := new(mockPublisher)
		msg := adapter.Message{Command: "send", Message: json.RawMessage(`"hi"`)}
		handler.On("HandleMessage", mock.Anything, msg).Return(nil)

		processor := pipeline.NewProcessor(handler, publisher, logger)
		err := processor(ctx, original, &pipeline.Event{Type: pipeline.EventMessage, Message: &msg})

		require.NoError(t, err)
		publisher.AssertNotCalled(t, "PublishReply", mock.Anything, mock.Anything)
	})

	t.Run("Reply failure still acks", func(t *testing.T) {
		handler := new(mockHandler)
		publisher := new(mockPublisher)
		msg := adapter.Message{Command: "send", Message: json.RawMessage(`"hi"`), Callback: json.RawMessage(`1`)}
		reply := &adapter.Reply{Command: "send", Message: 1}
		handler.On("HandleMessage", mock.Anything, msg).Return(reply)
		publisher.On("PublishReply", mock.Anything, reply).Return(errors.New("topic gone"))

		processor := pipeline.NewProcessor(handler, publisher, logger)
		err := processor(ctx, original, &pipeline.Event{Type: pipeline.EventMessage, Message: &msg})

		require.NoError(t, err)
		publisher.AssertExpectations(t)
	})

	t.Run("No reply topic configured", func(t *testing.T) {
		handler := new(mockHandler)
		msg := adapter.Message{Command: "send", Message: json.RawMessage(`"hi"`), Callback: json.RawMessage(`1`)}
		handler.On("HandleMessage", mock.Anything, msg).Return(&adapter.Reply{Command: "send"})

		processor := pipeline.NewProcessor(handler, nil, logger)
		err := processor(ctx, original, &pipeline.Event{Type: pipeline.EventMessage, Message: &msg})

		require.NoError(t, err)
		handler.AssertExpectations(t)
	})
}
