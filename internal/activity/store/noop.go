package store

import (
	"context"

	"github.com/serroba/accessdesk/internal/activity"
	"go.uber.org/zap"
)

// Noop logs activity events instead of persisting them.
type Noop struct {
	logger *zap.Logger
}

var _ activity.Store = (*Noop)(nil)

// NewNoop creates a new no-op activity store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveTransition(_ context.Context, event *activity.TransitionRequestedEvent) error {
	n.logger.Info("transition requested",
		zap.String("id", event.ID),
		zap.String("request_id", event.RequestID),
		zap.String("action", event.Action),
		zap.String("session_id", event.SessionID),
		zap.Time("at", event.At),
	)

	return nil
}

func (n *Noop) SaveVersionBump(_ context.Context, event *activity.CacheVersionBumpedEvent) error {
	n.logger.Info("cache version bumped",
		zap.Uint64("version", event.Version),
		zap.Time("at", event.At),
	)

	return nil
}
