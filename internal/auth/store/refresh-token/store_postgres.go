package refreshtoken

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"backoffice/internal/auth/models"
	"backoffice/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	id          TEXT PRIMARY KEY,
	token_hash  TEXT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	guard       TEXT NOT NULL,
	client_type TEXT NOT NULL,
	device_name TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	rotated_at  TIMESTAMPTZ,
	replaced_by TEXT NOT NULL DEFAULT '',
	revoked_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS refresh_tokens_session_idx ON refresh_tokens (session_id);
`

const selectColumns = `id, token_hash, session_id, subject_id, guard, client_type, device_name,
	client_ip, user_agent, created_at, expires_at, rotated_at, replaced_by, revoked_at`

const insertRecord = `
	INSERT INTO refresh_tokens (id, token_hash, session_id, subject_id, guard, client_type,
		device_name, client_ip, user_agent, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// PostgresStore persists refresh records in PostgreSQL. Rotation locks the
// presented row so concurrent refreshes of one token serialize.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the refresh_tokens table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate refresh_tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.RefreshRecord) error {
	return insert(ctx, s.db, rec)
}

func (s *PostgresStore) Find(ctx context.Context, tokenHash string) (*models.RefreshRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanRecord(row)
}

func (s *PostgresStore) Rotate(ctx context.Context, tokenHash string, now time.Time, build NextFunc) (prev, next *models.RefreshRecord, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, tokenHash)
	prev, err = scanRecord(row)
	if err != nil {
		return nil, nil, err
	}
	if err = checkRotatable(prev, now); err != nil {
		return prev, nil, err
	}

	n := build(*prev)
	if _, err = tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET rotated_at = $1, replaced_by = $2 WHERE id = $3`,
		now, n.ID, prev.ID); err != nil {
		return nil, nil, fmt.Errorf("mark refresh token rotated: %w", err)
	}
	if err = insert(ctx, tx, &n); err != nil {
		return nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit rotation: %w", err)
	}
	prev.RotatedAt = &now
	prev.ReplacedBy = n.ID
	return prev, &n, nil
}

// RevokeSession revokes the current record of a session. Already revoked or
// rotated records are left alone. The session's rows are locked first so a
// rotation in flight either completes before the revocation, whose successor
// is then revoked too, or sees the revocation and fails.
func (s *PostgresStore) RevokeSession(ctx context.Context, sessionID string, now time.Time) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin revocation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM refresh_tokens WHERE session_id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("lock refresh session: %w", err)
	}
	if err = rows.Close(); err != nil {
		return 0, fmt.Errorf("lock refresh session: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1
		WHERE session_id = $2 AND revoked_at IS NULL AND rotated_at IS NULL
	`, now, sessionID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit revocation: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) SessionActive(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE session_id = $1 AND revoked_at IS NULL AND rotated_at IS NULL AND expires_at > $2
		)
	`, sessionID, now).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check refresh session: %w", err)
	}
	return active, nil
}

// DeleteExpired removes records past expiry.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return int(n), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, rec *models.RefreshRecord) error {
	_, err := db.ExecContext(ctx, insertRecord,
		rec.ID, rec.TokenHash, rec.SessionID, rec.SubjectID, rec.Guard, string(rec.ClientType),
		rec.DeviceName, rec.ClientIP, rec.UserAgent, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*models.RefreshRecord, error) {
	var (
		rec        models.RefreshRecord
		clientType string
		rotatedAt  sql.NullTime
		revokedAt  sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.TokenHash, &rec.SessionID, &rec.SubjectID, &rec.Guard, &clientType,
		&rec.DeviceName, &rec.ClientIP, &rec.UserAgent, &rec.CreatedAt, &rec.ExpiresAt,
		&rotatedAt, &rec.ReplacedBy, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	rec.ClientType = models.ClientType(clientType)
	if rotatedAt.Valid {
		t := rotatedAt.Time
		rec.RotatedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}
