package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/accessdesk/internal/activity"
)

const activitySchema = `
	CREATE TABLE IF NOT EXISTS access_transitions (
		id          TEXT PRIMARY KEY,
		request_id  TEXT NOT NULL,
		action      TEXT NOT NULL,
		reason      TEXT,
		session_id  TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS access_transitions_request_idx
		ON access_transitions (request_id, occurred_at DESC);
	CREATE TABLE IF NOT EXISTS cache_version_bumps (
		id          TEXT PRIMARY KEY,
		version     BIGINT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	);
`

// ActivityPostgresStore persists activity events in PostgreSQL.
type ActivityPostgresStore struct {
	pool *pgxpool.Pool
}

var _ activity.Store = (*ActivityPostgresStore)(nil)

// NewActivityPostgresStore creates a new PostgreSQL-backed activity store.
func NewActivityPostgresStore(pool *pgxpool.Pool) *ActivityPostgresStore {
	return &ActivityPostgresStore{pool: pool}
}

// EnsureSchema creates the activity tables if they are missing.
func (p *ActivityPostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, activitySchema); err != nil {
		return fmt.Errorf("create activity schema: %w", err)
	}

	return nil
}

// SaveTransition is idempotent on the event id, so redelivered messages are harmless.
func (p *ActivityPostgresStore) SaveTransition(ctx context.Context, event *activity.TransitionRequestedEvent) error {
	query := `
		INSERT INTO access_transitions (id, request_id, action, reason, session_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.RequestID,
		event.Action,
		nullableString(event.Reason),
		event.SessionID,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("save transition %s: %w", event.ID, err)
	}

	return nil
}

func (p *ActivityPostgresStore) SaveVersionBump(ctx context.Context, event *activity.CacheVersionBumpedEvent) error {
	query := `
		INSERT INTO cache_version_bumps (id, version, occurred_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := p.pool.Exec(ctx, query, event.ID, int64(event.Version), event.At); err != nil {
		return fmt.Errorf("save version bump %s: %w", event.ID, err)
	}

	return nil
}

// Transitions returns the latest transitions of one access request, newest first.
func (p *ActivityPostgresStore) Transitions(ctx context.Context, requestID string, limit int) ([]activity.TransitionRequestedEvent, error) {
	query := `
		SELECT id, request_id, action, reason, session_id, occurred_at
		FROM access_transitions
		WHERE request_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := p.pool.Query(ctx, query, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.TransitionRequestedEvent, error) {
		var (
			e      activity.TransitionRequestedEvent
			reason *string
		)

		err := row.Scan(&e.ID, &e.RequestID, &e.Action, &reason, &e.SessionID, &e.At)
		if reason != nil {
			e.Reason = *reason
		}

		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan transitions: %w", err)
	}

	return events, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
