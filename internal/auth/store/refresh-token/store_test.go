package refreshtoken

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"backoffice/internal/auth/models"
	"backoffice/pkg/platform/sentinel"
)

type refreshStore interface {
	Create(ctx context.Context, rec *models.RefreshRecord) error
	Find(ctx context.Context, tokenHash string) (*models.RefreshRecord, error)
	Rotate(ctx context.Context, tokenHash string, now time.Time, build NextFunc) (*models.RefreshRecord, *models.RefreshRecord, error)
	RevokeSession(ctx context.Context, sessionID string, now time.Time) (int, error)
	SessionActive(ctx context.Context, sessionID string, now time.Time) (bool, error)
}

// StoreSuite runs the shared rotation contract against each implementation.
type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	store   refreshStore
	newFunc func(s *StoreSuite) refreshStore
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(*StoreSuite) refreshStore { return NewInMemory() }})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(s *StoreSuite) refreshStore {
		mr := miniredis.RunT(s.T())
		return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	}})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newFunc(s)
}

func (s *StoreSuite) record(hash, sessionID string, ttl time.Duration) *models.RefreshRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.RefreshRecord{
		ID:         uuid.NewString(),
		TokenHash:  hash,
		SessionID:  sessionID,
		SubjectID:  "admin-1",
		Guard:      "admin",
		ClientType: models.ClientWeb,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func successor(hash string) NextFunc {
	return func(prev models.RefreshRecord) models.RefreshRecord {
		now := time.Now().UTC().Truncate(time.Millisecond)
		return models.RefreshRecord{
			ID:         uuid.NewString(),
			TokenHash:  hash,
			SessionID:  prev.SessionID,
			SubjectID:  prev.SubjectID,
			Guard:      prev.Guard,
			ClientType: prev.ClientType,
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		}
	}
}

func (s *StoreSuite) TestCreateAndFind() {
	rec := s.record("hash-1", "sess-1", time.Hour)
	s.Require().NoError(s.store.Create(s.ctx, rec))

	found, err := s.store.Find(s.ctx, "hash-1")
	s.Require().NoError(err)
	s.Equal(rec.ID, found.ID)
	s.Equal("sess-1", found.SessionID)
	s.True(found.ExpiresAt.Equal(rec.ExpiresAt))

	active, err := s.store.SessionActive(s.ctx, "sess-1", time.Now())
	s.Require().NoError(err)
	s.True(active)
}

func (s *StoreSuite) TestCreateDuplicateHash() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))
	err := s.store.Create(s.ctx, s.record("hash-1", "sess-2", time.Hour))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *StoreSuite) TestFindMissing() {
	_, err := s.store.Find(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestRotate() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))

	prev, next, err := s.store.Rotate(s.ctx, "hash-1", time.Now(), successor("hash-2"))
	s.Require().NoError(err)
	s.Equal("hash-1", prev.TokenHash)
	s.NotNil(prev.RotatedAt)
	s.Equal(next.ID, prev.ReplacedBy)
	s.Equal("hash-2", next.TokenHash)
	s.Equal("sess-1", next.SessionID)

	old, err := s.store.Find(s.ctx, "hash-1")
	s.Require().NoError(err)
	s.NotNil(old.RotatedAt)

	active, err := s.store.SessionActive(s.ctx, "sess-1", time.Now())
	s.Require().NoError(err)
	s.True(active)
}

func (s *StoreSuite) TestRotateTwiceReportsReuse() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))
	_, _, err := s.store.Rotate(s.ctx, "hash-1", time.Now(), successor("hash-2"))
	s.Require().NoError(err)

	prev, next, err := s.store.Rotate(s.ctx, "hash-1", time.Now(), successor("hash-3"))
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	s.Nil(next)
	s.Require().NotNil(prev)
	s.Equal("sess-1", prev.SessionID)
}

func (s *StoreSuite) TestRotateExpired() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Minute)))
	_, _, err := s.store.Rotate(s.ctx, "hash-1", time.Now().Add(2*time.Minute), successor("hash-2"))
	s.ErrorIs(err, sentinel.ErrExpired)
}

func (s *StoreSuite) TestRotateMissing() {
	_, _, err := s.store.Rotate(s.ctx, "nope", time.Now(), successor("hash-2"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestRevokeSession() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))

	n, err := s.store.RevokeSession(s.ctx, "sess-1", time.Now())
	s.Require().NoError(err)
	s.Equal(1, n)

	active, err := s.store.SessionActive(s.ctx, "sess-1", time.Now())
	s.Require().NoError(err)
	s.False(active)

	_, _, err = s.store.Rotate(s.ctx, "hash-1", time.Now(), successor("hash-2"))
	s.ErrorIs(err, sentinel.ErrRevoked)

	s.Run("second revocation is a no-op", func() {
		n, err := s.store.RevokeSession(s.ctx, "sess-1", time.Now())
		s.Require().NoError(err)
		s.Equal(0, n)
	})
}

func (s *StoreSuite) TestRevokeAfterRotationTargetsCurrentRecord() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))
	_, _, err := s.store.Rotate(s.ctx, "hash-1", time.Now(), successor("hash-2"))
	s.Require().NoError(err)

	n, err := s.store.RevokeSession(s.ctx, "sess-1", time.Now())
	s.Require().NoError(err)
	s.Equal(1, n)

	current, err := s.store.Find(s.ctx, "hash-2")
	s.Require().NoError(err)
	s.NotNil(current.RevokedAt)
}

func (s *StoreSuite) TestUnknownSessionIsInactive() {
	active, err := s.store.SessionActive(s.ctx, "ghost", time.Now())
	s.Require().NoError(err)
	s.False(active)
}

func (s *StoreSuite) TestConcurrentRotateHasOneWinner() {
	s.Require().NoError(s.store.Create(s.ctx, s.record("hash-1", "sess-1", time.Hour)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		reused    atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.store.Rotate(s.ctx, "hash-1", time.Now(), successor(uuid.NewString()))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(workers-1), reused.Load())
}

func (s *StoreSuite) TestRevokeRacingRotateEndsInactive() {
	for i := range 20 {
		sessionID, hash := uuid.NewString(), uuid.NewString()
		s.Require().NoError(s.store.Create(s.ctx, s.record(hash, sessionID, time.Hour)))

		var (
			wg        sync.WaitGroup
			revokeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, revokeErr = s.store.RevokeSession(s.ctx, sessionID, time.Now())
		}()
		go func() {
			defer wg.Done()
			_, _, _ = s.store.Rotate(s.ctx, hash, time.Now(), successor(uuid.NewString()))
		}()
		wg.Wait()

		s.Require().NoError(revokeErr, "iteration %d", i)
		active, err := s.store.SessionActive(s.ctx, sessionID, time.Now())
		s.Require().NoError(err)
		s.False(active, "iteration %d: session survived revocation", i)
	}
}
