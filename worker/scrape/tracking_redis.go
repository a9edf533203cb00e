package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordPriceRetries limita as voltas do WATCH quando outro worker grava o mesmo tracker.
const recordPriceRetries = 50

// redisWatcher é redis.Cmdable com WATCH (*redis.Client, *redis.ClusterClient).
type redisWatcher interface {
	redis.Cmdable
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// RedisTrackingStore guarda cada tracker como JSON em <prefix>:tracking:<id>
// e o conjunto de ids em <prefix>:tracking:ids.
type RedisTrackingStore struct {
	rdb    redisWatcher
	prefix string
}

func NewRedisTrackingStore(rdb redisWatcher, prefix string) *RedisTrackingStore {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisTrackingStore{rdb: rdb, prefix: prefix}
}

func (s *RedisTrackingStore) key(id string) string { return s.prefix + ":tracking:" + id }
func (s *RedisTrackingStore) idsKey() string       { return s.prefix + ":tracking:ids" }

func (s *RedisTrackingStore) Get(ctx context.Context, id string) (Tracker, error) {
	return s.get(ctx, s.rdb, id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisTrackingStore) get(ctx context.Context, rdb stringGetter, id string) (Tracker, error) {
	raw, err := rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Tracker{}, fmt.Errorf("%w: %s", ErrTrackingNotFound, id)
	}
	if err != nil {
		return Tracker{}, fmt.Errorf("get tracker %s: %w", id, err)
	}
	var t Tracker
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tracker{}, fmt.Errorf("decode tracker %s: %w", id, err)
	}
	return t, nil
}

func (s *RedisTrackingStore) Save(ctx context.Context, t Tracker) error {
	if t.ID == "" {
		return errors.New("tracker id is required")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tracker %s: %w", t.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(t.ID), raw, 0)
		pipe.SAdd(ctx, s.idsKey(), t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tracker %s: %w", t.ID, err)
	}
	return nil
}

// RecordPrice lê, aplica Observe e grava sob WATCH; se a chave mudar no meio, tenta de novo.
func (s *RedisTrackingStore) RecordPrice(ctx context.Context, id string, price float64, at time.Time) (Tracker, error) {
	key := s.key(id)
	var out Tracker
	for i := 0; i < recordPriceRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			t, err := s.get(ctx, tx, id)
			if err != nil {
				return err
			}
			t.Observe(price, at)
			raw, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode tracker %s: %w", id, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				return nil
			})
			if err != nil {
				return err
			}
			out = t
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Tracker{}, fmt.Errorf("record price %s: %w", id, err)
		}
		return out, nil
	}
	return Tracker{}, fmt.Errorf("record price %s: too much contention", id)
}

func (s *RedisTrackingStore) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list tracker ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
