package activity

import "context"

// Store persists activity events.
type Store interface {
	SaveTransition(ctx context.Context, event *TransitionRequestedEvent) error
	SaveVersionBump(ctx context.Context, event *CacheVersionBumpedEvent) error
}
