package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice/internal/datatable"
	"backoffice/pkg/platform/sentinel"
)

const (
	keyPrefix     = "backoffice:export-job:"
	maxTxAttempts = 5
)

// RedisStore shares jobs across processes. Expiry is the key TTL.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Create(ctx context.Context, j *datatable.Job) error {
	ttl := j.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode export job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+j.ID, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store export job: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*datatable.Job, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load export job: %w", err)
	}
	return decode(data)
}

// Update reads, mutates and writes the job under WATCH so concurrent updates
// to the same job serialize. The key TTL is preserved.
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*datatable.Job) error) (*datatable.Job, error) {
	key := keyPrefix + id
	var out *datatable.Job
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load export job: %w", err)
		}
		j, err := decode(data)
		if err != nil {
			return err
		}
		if err := mutate(j); err != nil {
			return err
		}
		encoded, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("encode export job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		out = j
		return nil
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, sentinel.ErrConflict
}

func decode(data []byte) (*datatable.Job, error) {
	var j datatable.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode export job: %w", err)
	}
	return &j, nil
}
