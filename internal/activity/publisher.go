package activity

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/serroba/accessdesk/internal/messaging"
)

// Publisher publishes activity events.
type Publisher struct {
	transition messaging.Publish[TransitionRequestedEvent]
	version    messaging.Publish[CacheVersionBumpedEvent]
	now        func() time.Time
}

// NewPublisher creates a publisher on top of a shared message publisher.
func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{
		transition: messaging.NewPublishFunc[TransitionRequestedEvent](publisher, TopicTransitionRequested),
		version:    messaging.NewPublishFunc[CacheVersionBumpedEvent](publisher, TopicCacheVersionBumped),
		now:        time.Now,
	}
}

// TransitionRequested publishes event, filling in ID and At when unset.
func (p *Publisher) TransitionRequested(ctx context.Context, event *TransitionRequestedEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.At.IsZero() {
		event.At = p.now().UTC()
	}

	return p.transition(ctx, event)
}

// CacheVersionBumped publishes a version bump.
func (p *Publisher) CacheVersionBumped(ctx context.Context, version uint64) error {
	return p.version(ctx, &CacheVersionBumpedEvent{
		ID:      uuid.NewString(),
		Version: version,
		At:      p.now().UTC(),
	})
}
