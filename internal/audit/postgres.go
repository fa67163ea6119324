package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	action      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_actor_idx ON audit_events (actor_id, occurred_at);
`

const insertEvent = `
INSERT INTO audit_events (id, occurred_at, action, outcome, actor_id, session_id, subject, reason, request_id, client_ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectByActor = `
SELECT occurred_at, action, outcome, actor_id, session_id, subject, reason, request_id, client_ip
FROM audit_events
WHERE actor_id = $1
ORDER BY occurred_at ASC
LIMIT $2`

// PostgresStore appends events to the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, insertEvent,
		uuid.New(), e.Timestamp, string(e.Action), string(e.Outcome),
		e.ActorID, e.SessionID, e.Subject, e.Reason, e.RequestID, e.ClientIP)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByActor returns up to limit events for actorID, oldest first.
func (s *PostgresStore) ListByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, selectByActor, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			action  string
			outcome string
		)
		if err := rows.Scan(&e.Timestamp, &action, &outcome, &e.ActorID, &e.SessionID,
			&e.Subject, &e.Reason, &e.RequestID, &e.ClientIP); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
