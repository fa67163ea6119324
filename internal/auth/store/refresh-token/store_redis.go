package refreshtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice/internal/auth/models"
	"backoffice/pkg/platform/sentinel"
)

const (
	recordKeyPrefix  = "backoffice:refresh:"
	sessionKeyPrefix = "backoffice:refresh-session:"
	maxTxAttempts    = 3
)

// RedisStore shares refresh records across processes. Each record lives until
// its own expiry; the session key points at the current record and is removed
// on revocation.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, rec *models.RefreshRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode refresh record: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	ok, err := s.client.SetNX(ctx, recordKeyPrefix+rec.TokenHash, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store refresh record: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+rec.SessionID, rec.TokenHash, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, tokenHash string) (*models.RefreshRecord, error) {
	return load(ctx, s.client, tokenHash)
}

// Rotate watches the record and its session pointer so a concurrent rotation
// or revocation aborts the transaction; the retry then sees the new state.
func (s *RedisStore) Rotate(ctx context.Context, tokenHash string, now time.Time, build NextFunc) (*models.RefreshRecord, *models.RefreshRecord, error) {
	var prev, next *models.RefreshRecord
	txf := func(tx *redis.Tx) error {
		rec, err := load(ctx, tx, tokenHash)
		if err != nil {
			return err
		}
		prev = rec
		if err := checkRotatable(rec, now); err != nil {
			return err
		}

		n := build(*rec)
		rec.RotatedAt = &now
		rec.ReplacedBy = n.ID
		oldData, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode refresh record: %w", err)
		}
		newData, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode refresh record: %w", err)
		}
		ttl := n.ExpiresAt.Sub(now)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, recordKeyPrefix+tokenHash, oldData, redis.SetArgs{KeepTTL: true})
			pipe.Set(ctx, recordKeyPrefix+n.TokenHash, newData, ttl)
			pipe.Set(ctx, sessionKeyPrefix+n.SessionID, n.TokenHash, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		next = &n
		return nil
	}

	for range maxTxAttempts {
		prev, next = nil, nil
		err := s.client.Watch(ctx, txf, recordKeyPrefix+tokenHash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return prev, nil, err
		}
		return prev, next, nil
	}
	return nil, nil, fmt.Errorf("refresh rotation contended: %w", sentinel.ErrAlreadyUsed)
}

func (s *RedisStore) RevokeSession(ctx context.Context, sessionID string, now time.Time) (int, error) {
	sessionKey := sessionKeyPrefix + sessionID
	revoked := 0
	txf := func(tx *redis.Tx) error {
		revoked = 0
		hash, err := tx.Get(ctx, sessionKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load refresh session: %w", err)
		}
		rec, err := load(ctx, tx, hash)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if rec != nil && rec.RevokedAt == nil {
				rec.RevokedAt = &now
				data, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				pipe.SetArgs(ctx, recordKeyPrefix+hash, data, redis.SetArgs{KeepTTL: true})
				revoked = 1
			}
			pipe.Del(ctx, sessionKey)
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, sessionKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return revoked, nil
	}
	return 0, fmt.Errorf("refresh revocation contended: %w", sentinel.ErrConflict)
}

func (s *RedisStore) SessionActive(ctx context.Context, sessionID string, _ time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("check refresh session: %w", err)
	}
	return n == 1, nil
}

func load(ctx context.Context, c redis.Cmdable, tokenHash string) (*models.RefreshRecord, error) {
	data, err := c.Get(ctx, recordKeyPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh record: %w", err)
	}
	var rec models.RefreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return &rec, nil
}
