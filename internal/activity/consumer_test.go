package activity_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/serroba/accessdesk/internal/activity"
	"github.com/serroba/accessdesk/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubscriber struct {
	mu     sync.Mutex
	topics map[string]chan *message.Message
	closed bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{topics: map[string]chan *message.Message{
		activity.TopicTransitionRequested: make(chan *message.Message, 10),
		activity.TopicCacheVersionBumped:  make(chan *message.Message, 10),
	}}
}

func (m *mockSubscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	ch, ok := m.topics[topic]
	if !ok {
		return nil, errors.New("unknown topic")
	}

	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		for _, ch := range m.topics {
			close(ch)
		}
	}

	return nil
}

type mockStore struct {
	mu          sync.Mutex
	transitions []*activity.TransitionRequestedEvent
	bumps       []*activity.CacheVersionBumpedEvent
	err         error
}

func (m *mockStore) SaveTransition(_ context.Context, event *activity.TransitionRequestedEvent) error {
	if m.err != nil {
		return m.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = append(m.transitions, event)

	return nil
}

func (m *mockStore) SaveVersionBump(_ context.Context, event *activity.CacheVersionBumpedEvent) error {
	if m.err != nil {
		return m.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.bumps = append(m.bumps, event)

	return nil
}

func send(t *testing.T, ch chan *message.Message, v any) *message.Message {
	t.Helper()

	payload, err := json.Marshal(v)
	require.NoError(t, err)

	msg := message.NewMessage(uuid.NewString(), payload)
	ch <- msg

	return msg
}

func TestNewConsumers(t *testing.T) {
	t.Run("persists both event kinds", func(t *testing.T) {
		sub := newMockSubscriber()
		st := &mockStore{}

		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		for _, c := range activity.NewConsumers(sub, st, zap.NewNop()) {
			group.Add(c)
		}

		require.NoError(t, group.Start(context.Background()))
		assert.ElementsMatch(t,
			[]string{activity.TopicTransitionRequested, activity.TopicCacheVersionBumped},
			group.Topics())

		transition := send(t, sub.topics[activity.TopicTransitionRequested],
			activity.TransitionRequestedEvent{ID: "e1", RequestID: "ar-1", Action: "cancel"})
		bump := send(t, sub.topics[activity.TopicCacheVersionBumped],
			activity.CacheVersionBumpedEvent{ID: "e2", Version: 3})

		for _, msg := range []*message.Message{transition, bump} {
			select {
			case <-msg.Acked():
			case <-msg.Nacked():
				t.Fatal("message was nacked")
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for ack")
			}
		}

		st.mu.Lock()
		require.Len(t, st.transitions, 1)
		assert.Equal(t, "ar-1", st.transitions[0].RequestID)
		require.Len(t, st.bumps, 1)
		assert.Equal(t, uint64(3), st.bumps[0].Version)
		st.mu.Unlock()

		require.NoError(t, group.Shutdown())
	})

	t.Run("nacks when the store fails", func(t *testing.T) {
		sub := newMockSubscriber()
		st := &mockStore{err: errors.New("db down")}

		consumers := activity.NewConsumers(sub, st, zap.NewNop())
		require.NoError(t, consumers[0].Start(context.Background()))

		msg := send(t, sub.topics[activity.TopicTransitionRequested], activity.TransitionRequestedEvent{ID: "e1"})

		select {
		case <-msg.Nacked():
		case <-msg.Acked():
			t.Fatal("message should have been nacked")
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for nack")
		}

		_ = consumers[0].Shutdown()
	})
}
