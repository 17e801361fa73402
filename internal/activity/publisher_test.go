package activity_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	topics     []string
	messages   []*message.Message
	publishErr error
}

func (m *mockPublisher) Publish(topic string, msgs ...*message.Message) error {
	if m.publishErr != nil {
		return m.publishErr
	}

	m.topics = append(m.topics, topic)
	m.messages = append(m.messages, msgs...)

	return nil
}

func (m *mockPublisher) Close() error {
	return nil
}

func TestPublisher_TransitionRequested(t *testing.T) {
	t.Run("fills id and timestamp", func(t *testing.T) {
		mock := &mockPublisher{}
		pub := activity.NewPublisher(mock)

		event := &activity.TransitionRequestedEvent{RequestID: "ar-1", Action: "approve", SessionID: "s1"}

		require.NoError(t, pub.TransitionRequested(context.Background(), event))

		assert.NotEmpty(t, event.ID)
		assert.False(t, event.At.IsZero())
		assert.Equal(t, []string{activity.TopicTransitionRequested}, mock.topics)

		var got activity.TransitionRequestedEvent
		require.NoError(t, json.Unmarshal(mock.messages[0].Payload, &got))
		assert.Equal(t, "ar-1", got.RequestID)
		assert.Equal(t, event.ID, got.ID)
	})

	t.Run("keeps caller id and time", func(t *testing.T) {
		mock := &mockPublisher{}
		pub := activity.NewPublisher(mock)
		at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		event := &activity.TransitionRequestedEvent{ID: "fixed", RequestID: "ar-1", At: at}
		require.NoError(t, pub.TransitionRequested(context.Background(), event))

		assert.Equal(t, "fixed", event.ID)
		assert.Equal(t, at, event.At)
	})

	t.Run("returns publish failure", func(t *testing.T) {
		pub := activity.NewPublisher(&mockPublisher{publishErr: errors.New("down")})

		assert.Error(t, pub.TransitionRequested(context.Background(), &activity.TransitionRequestedEvent{}))
	})
}

func TestPublisher_CacheVersionBumped(t *testing.T) {
	mock := &mockPublisher{}
	pub := activity.NewPublisher(mock)

	require.NoError(t, pub.CacheVersionBumped(context.Background(), 7))

	assert.Equal(t, []string{activity.TopicCacheVersionBumped}, mock.topics)

	var got activity.CacheVersionBumpedEvent
	require.NoError(t, json.Unmarshal(mock.messages[0].Payload, &got))
	assert.Equal(t, uint64(7), got.Version)
}
