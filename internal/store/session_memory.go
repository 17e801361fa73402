package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/serroba/accessdesk/internal/dashboard"
)

type sessionEntry struct {
	record    dashboard.SessionRecord
	expiresAt time.Time
}

// MemorySessionRegistry is an in-process implementation of dashboard.SessionRegistry.
type MemorySessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	clock    clockwork.Clock
}

// NewMemorySessionRegistry creates an empty registry. A nil clock uses wall time.
func NewMemorySessionRegistry(clock clockwork.Clock) *MemorySessionRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemorySessionRegistry{
		sessions: make(map[string]sessionEntry),
		clock:    clock,
	}
}

func (m *MemorySessionRegistry) Save(_ context.Context, record dashboard.SessionRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[record.ID] = sessionEntry{record: record, expiresAt: m.clock.Now().Add(ttl)}

	return nil
}

func (m *MemorySessionRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)

	return nil
}

// List returns unexpired records ordered by creation time.
func (m *MemorySessionRegistry) List(_ context.Context) ([]dashboard.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	out := make([]dashboard.SessionRecord, 0, len(m.sessions))

	for _, e := range m.sessions {
		if now.Before(e.expiresAt) {
			out = append(out, e.record)
		}
	}

	sortRecords(out)

	return out, nil
}

func sortRecords(records []dashboard.SessionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}

		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
