// Package activity records what sessions did to access requests. Events are
// published on Redis streams by the gateway and persisted by the consumer.
package activity

import "time"

const (
	TopicTransitionRequested = "access.transition"
	TopicCacheVersionBumped  = "cache.version"

	// ConsumerGroup is the Redis stream group shared by consumer processes.
	ConsumerGroup = "accessdesk-activity"
)

// TransitionRequestedEvent is emitted after the upstream accepted a state
// transition of an access request.
type TransitionRequestedEvent struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
}

// CacheVersionBumpedEvent is emitted when an operator invalidates the whole cache.
type CacheVersionBumpedEvent struct {
	ID      string    `json:"id"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}
