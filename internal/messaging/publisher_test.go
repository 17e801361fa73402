package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/serroba/accessdesk/internal/messaging"
	"github.com/serroba/accessdesk/internal/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	messages   []*message.Message
	topic      string
	publishErr error
	closeErr   error
}

func (m *mockPublisher) Publish(topic string, msgs ...*message.Message) error {
	if m.publishErr != nil {
		return m.publishErr
	}

	m.topic = topic
	m.messages = append(m.messages, msgs...)

	return nil
}

func (m *mockPublisher) Close() error {
	return m.closeErr
}

type decisionEvent struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
}

func TestNewPublishFunc(t *testing.T) {
	t.Run("publishes event with correlation id", func(t *testing.T) {
		mock := &mockPublisher{}
		publish := messaging.NewPublishFunc[decisionEvent](mock, "access.decision")

		ctx := requestid.With(context.Background(), "req-1")
		err := publish(ctx, &decisionEvent{RequestID: "ar-1", Action: "approve"})

		require.NoError(t, err)
		assert.Equal(t, "access.decision", mock.topic)
		require.Len(t, mock.messages, 1)
		assert.JSONEq(t, `{"requestId":"ar-1","action":"approve"}`, string(mock.messages[0].Payload))
		assert.Equal(t, "req-1", middleware.MessageCorrelationID(mock.messages[0]))
	})

	t.Run("no correlation id without request id", func(t *testing.T) {
		mock := &mockPublisher{}
		publish := messaging.NewPublishFunc[decisionEvent](mock, "access.decision")

		require.NoError(t, publish(context.Background(), &decisionEvent{RequestID: "ar-1"}))
		assert.Empty(t, middleware.MessageCorrelationID(mock.messages[0]))
	})

	t.Run("wraps publish failure with topic", func(t *testing.T) {
		cause := errors.New("stream unavailable")
		mock := &mockPublisher{publishErr: cause}
		publish := messaging.NewPublishFunc[decisionEvent](mock, "access.decision")

		err := publish(context.Background(), &decisionEvent{RequestID: "ar-1"})

		require.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "access.decision")
	})
}

func TestPublisherGroup(t *testing.T) {
	t.Run("returns underlying publisher", func(t *testing.T) {
		mock := &mockPublisher{}
		group := messaging.NewPublisherGroup(mock)

		assert.Equal(t, mock, group.Publisher())
	})

	t.Run("shuts down successfully", func(t *testing.T) {
		group := messaging.NewPublisherGroup(&mockPublisher{})

		require.NoError(t, group.Shutdown())
	})

	t.Run("returns error when close fails", func(t *testing.T) {
		group := messaging.NewPublisherGroup(&mockPublisher{closeErr: errors.New("close error")})

		assert.Error(t, group.Shutdown())
	})
}
