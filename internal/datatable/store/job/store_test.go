package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"backoffice/internal/datatable"
	"backoffice/pkg/platform/sentinel"
)

// StoreSuite runs the same behavior checks against every implementation.
type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	store   datatable.JobStore
	newFunc func(s *StoreSuite) datatable.JobStore
	mr      *miniredis.Miniredis
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(*StoreSuite) datatable.JobStore {
		return NewMemory(time.Minute)
	}})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(s *StoreSuite) datatable.JobStore {
		s.mr = miniredis.RunT(s.T())
		return NewRedis(redis.NewClient(&redis.Options{Addr: s.mr.Addr()}))
	}})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newFunc(s)
}

func (s *StoreSuite) newJob(id string, ttl time.Duration) *datatable.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &datatable.Job{
		ID:       id,
		ScopeKey: "admin.admin",
		Status:   datatable.JobQueued,
		Request: datatable.JobRequest{
			Input:       datatable.Input{Params: datatable.Params{"q": "ann"}},
			ActorID:     "actor-1",
			Permissions: []string{"admin.read"},
		},
		FileName:  "admins.csv",
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *StoreSuite) TestCreateAndGet() {
	j := s.newJob("job-1", time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, j))

	got, err := s.store.Get(s.ctx, "job-1")
	s.Require().NoError(err)
	s.Equal(j.ScopeKey, got.ScopeKey)
	s.Equal(datatable.JobQueued, got.Status)
	s.Equal("ann", got.Request.Input.Params["q"])
	s.True(j.ExpiresAt.Equal(got.ExpiresAt))

	s.ErrorIs(s.store.Create(s.ctx, j), sentinel.ErrConflict)
}

func (s *StoreSuite) TestCreateExpired() {
	s.ErrorIs(s.store.Create(s.ctx, s.newJob("old", -time.Second)), sentinel.ErrExpired)
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestUpdate() {
	s.Require().NoError(s.store.Create(s.ctx, s.newJob("job-2", time.Hour)))

	updated, err := s.store.Update(s.ctx, "job-2", func(j *datatable.Job) error {
		j.Status = datatable.JobRunning
		return nil
	})
	s.Require().NoError(err)
	s.Equal(datatable.JobRunning, updated.Status)

	got, err := s.store.Get(s.ctx, "job-2")
	s.Require().NoError(err)
	s.Equal(datatable.JobRunning, got.Status)

	s.Run("mutate error aborts", func() {
		boom := errors.New("boom")
		_, err := s.store.Update(s.ctx, "job-2", func(j *datatable.Job) error {
			j.Status = datatable.JobFailed
			return boom
		})
		s.ErrorIs(err, boom)

		got, err := s.store.Get(s.ctx, "job-2")
		s.Require().NoError(err)
		s.Equal(datatable.JobRunning, got.Status)
	})

	s.Run("missing job", func() {
		_, err := s.store.Update(s.ctx, "nope", func(*datatable.Job) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestConcurrentTransitionsSerialize() {
	s.Require().NoError(s.store.Create(s.ctx, s.newJob("job-3", time.Hour)))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(s.ctx, "job-3", func(j *datatable.Job) error {
				if !j.Status.CanTransition(datatable.JobRunning) {
					return sentinel.ErrInvalidState
				}
				j.Status = datatable.JobRunning
				return nil
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *StoreSuite) TestRedisKeepsTTL() {
	if s.mr == nil {
		s.T().Skip("redis only")
	}
	s.Require().NoError(s.store.Create(s.ctx, s.newJob("job-4", time.Hour)))
	_, err := s.store.Update(s.ctx, "job-4", func(j *datatable.Job) error {
		j.Status = datatable.JobRunning
		return nil
	})
	s.Require().NoError(err)

	ttl := s.mr.TTL(keyPrefix + "job-4")
	s.Greater(ttl, 59*time.Minute)

	s.mr.FastForward(2 * time.Hour)
	_, err = s.store.Get(s.ctx, "job-4")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
