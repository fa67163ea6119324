// Package job holds export job stores.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"backoffice/internal/datatable"
	"backoffice/pkg/platform/sentinel"
)

// MemoryStore keeps jobs in process with per-job expiry.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

// NewMemory returns a store that purges expired jobs every cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, j *datatable.Job) error {
	ttl := j.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(j.ID, *j, ttl); err != nil {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*datatable.Job, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	j := v.(datatable.Job)
	return &j, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*datatable.Job) error) (*datatable.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.cache.GetWithExpiration(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	j := v.(datatable.Job)
	if err := mutate(&j); err != nil {
		return nil, err
	}
	ttl := cache.NoExpiration
	if !exp.IsZero() {
		ttl = exp.Sub(s.now())
		if ttl <= 0 {
			return nil, sentinel.ErrNotFound
		}
	}
	s.cache.Set(id, j, ttl)
	return &j, nil
}
