package activity

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/accessdesk/internal/messaging"
	"go.uber.org/zap"
)

// NewConsumers returns one consumer per activity topic, all writing to store.
func NewConsumers(subscriber message.Subscriber, store Store, logger *zap.Logger) []messaging.Runnable {
	return []messaging.Runnable{
		messaging.NewConsumer[TransitionRequestedEvent](subscriber, TopicTransitionRequested, store.SaveTransition, logger),
		messaging.NewConsumer[CacheVersionBumpedEvent](subscriber, TopicCacheVersionBumped, store.SaveVersionBump, logger),
	}
}
