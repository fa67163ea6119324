// Package refreshtoken holds refresh-token stores.
//
// Error contract shared by every store:
//   - sentinel.ErrNotFound when no record has the token hash
//   - sentinel.ErrRevoked when the record was revoked
//   - sentinel.ErrAlreadyUsed when the record was already rotated; the record
//     is returned alongside so callers can react to replay
//   - sentinel.ErrExpired when the record is past its expiry
//   - wrapped errors for infrastructure failures
package refreshtoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backoffice/internal/auth/models"
	"backoffice/pkg/platform/sentinel"
)

// NextFunc builds the successor of a record being rotated.
type NextFunc = func(prev models.RefreshRecord) models.RefreshRecord

// InMemoryStore keeps refresh records in process for tests and single-node runs.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.RefreshRecord
	current map[string]string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.RefreshRecord),
		current: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.TokenHash]; ok {
		return sentinel.ErrConflict
	}
	c := *rec
	s.records[rec.TokenHash] = &c
	s.current[rec.SessionID] = rec.TokenHash
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, tokenHash string) (*models.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenHash]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	c := *rec
	return &c, nil
}

func (s *InMemoryStore) Rotate(_ context.Context, tokenHash string, now time.Time, build NextFunc) (*models.RefreshRecord, *models.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenHash]
	if !ok {
		return nil, nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	prev := *rec
	if err := checkRotatable(&prev, now); err != nil {
		return &prev, nil, err
	}

	next := build(prev)
	rec.RotatedAt = &now
	rec.ReplacedBy = next.ID
	s.records[next.TokenHash] = &next
	s.current[next.SessionID] = next.TokenHash

	prev = *rec
	out := next
	return &prev, &out, nil
}

func (s *InMemoryStore) RevokeSession(_ context.Context, sessionID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.current[sessionID]
	if !ok {
		return 0, nil
	}
	delete(s.current, sessionID)
	rec := s.records[hash]
	if rec == nil || rec.RevokedAt != nil {
		return 0, nil
	}
	rec.RevokedAt = &now
	return 1, nil
}

func (s *InMemoryStore) SessionActive(_ context.Context, sessionID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.current[sessionID]
	if !ok {
		return false, nil
	}
	rec := s.records[hash]
	return rec != nil && rec.Current(now), nil
}

// DeleteExpired drops records past expiry and returns how many were removed.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, rec := range s.records {
		if now.Before(rec.ExpiresAt) {
			continue
		}
		delete(s.records, hash)
		if s.current[rec.SessionID] == hash {
			delete(s.current, rec.SessionID)
		}
		n++
	}
	return n, nil
}

// checkRotatable applies the shared validation order: revoked, rotated, expired.
func checkRotatable(rec *models.RefreshRecord, now time.Time) error {
	switch {
	case rec.RevokedAt != nil:
		return fmt.Errorf("refresh token revoked: %w", sentinel.ErrRevoked)
	case rec.RotatedAt != nil:
		return fmt.Errorf("refresh token already used: %w", sentinel.ErrAlreadyUsed)
	case !now.Before(rec.ExpiresAt):
		return fmt.Errorf("refresh token expired: %w", sentinel.ErrExpired)
	}
	return nil
}
