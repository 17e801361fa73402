package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/serroba/accessdesk/internal/messaging"
	"github.com/serroba/accessdesk/internal/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubscriber struct {
	msgChan      chan *message.Message
	subscribeErr error
	mu           sync.Mutex
	closed       bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		msgChan: make(chan *message.Message, 10),
	}
}

func (m *mockSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	return m.msgChan, nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.msgChan)
	}

	return nil
}

func noopHandler(context.Context, *decisionEvent) error { return nil }

func awaitAck(t *testing.T, msg *message.Message) {
	t.Helper()

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message was nacked")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ack")
	}
}

func awaitNack(t *testing.T, msg *message.Message) {
	t.Helper()

	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message should have been nacked")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for nack")
	}
}

func TestConsumer_Start(t *testing.T) {
	t.Run("starts successfully", func(t *testing.T) {
		consumer := messaging.NewConsumer(newMockSubscriber(), "access.decision", noopHandler, zap.NewNop())

		require.NoError(t, consumer.Start(context.Background()))
		assert.Equal(t, "access.decision", consumer.Topic())

		_ = consumer.Shutdown()
	})

	t.Run("subscribe failure does not block shutdown", func(t *testing.T) {
		sub := &mockSubscriber{subscribeErr: errors.New("subscribe error")}
		consumer := messaging.NewConsumer(sub, "access.decision", noopHandler, zap.NewNop())

		assert.Error(t, consumer.Start(context.Background()))
		assert.NoError(t, consumer.Shutdown())
	})
}

func TestConsumer_HandleMessage(t *testing.T) {
	t.Run("acks and passes the correlation id on", func(t *testing.T) {
		sub := newMockSubscriber()

		var (
			mu       sync.Mutex
			received *decisionEvent
			corrID   string
		)

		consumer := messaging.NewConsumer(sub, "access.decision",
			func(ctx context.Context, event *decisionEvent) error {
				mu.Lock()
				defer mu.Unlock()

				received = event
				corrID = requestid.From(ctx)

				return nil
			},
			zap.NewNop(),
		)

		require.NoError(t, consumer.Start(context.Background()))

		payload, _ := json.Marshal(&decisionEvent{RequestID: "ar-1", Action: "reject"})
		msg := message.NewMessage(uuid.NewString(), payload)
		middleware.SetCorrelationID("req-9", msg)

		sub.msgChan <- msg
		awaitAck(t, msg)

		mu.Lock()
		assert.Equal(t, "ar-1", received.RequestID)
		assert.Equal(t, "reject", received.Action)
		assert.Equal(t, "req-9", corrID)
		mu.Unlock()

		_ = consumer.Shutdown()
	})

	t.Run("nacks on unmarshal error", func(t *testing.T) {
		sub := newMockSubscriber()
		consumer := messaging.NewConsumer(sub, "access.decision", noopHandler, zap.NewNop())
		require.NoError(t, consumer.Start(context.Background()))

		msg := message.NewMessage(uuid.NewString(), []byte("invalid json"))
		sub.msgChan <- msg
		awaitNack(t, msg)

		_ = consumer.Shutdown()
	})

	t.Run("nacks on handler error", func(t *testing.T) {
		sub := newMockSubscriber()
		consumer := messaging.NewConsumer(sub, "access.decision",
			func(context.Context, *decisionEvent) error { return errors.New("handler error") },
			zap.NewNop(),
		)
		require.NoError(t, consumer.Start(context.Background()))

		payload, _ := json.Marshal(&decisionEvent{RequestID: "ar-1"})
		msg := message.NewMessage(uuid.NewString(), payload)
		sub.msgChan <- msg
		awaitNack(t, msg)

		_ = consumer.Shutdown()
	})
}

func TestConsumer_Shutdown(t *testing.T) {
	t.Run("stops when the subscription closes", func(t *testing.T) {
		sub := newMockSubscriber()
		consumer := messaging.NewConsumer(sub, "access.decision", noopHandler, zap.NewNop())
		require.NoError(t, consumer.Start(context.Background()))

		require.NoError(t, sub.Close())
		require.NoError(t, consumer.Shutdown())
	})
}
