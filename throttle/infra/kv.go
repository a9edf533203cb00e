package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/redis/go-redis/v9"
)

// RedisKV implementa domain.KVStore com GET/SET simples.
type RedisKV struct {
	rdb redis.Cmdable
}

func NewRedisKV(rdb redis.Cmdable) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return b, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// MemoryKV é um KVStore em memória com expiração preguiçosa.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type MemoryKVOption func(*MemoryKV)

func WithKVClock(clock func() time.Time) MemoryKVOption {
	return func(s *MemoryKV) { s.clock = clock }
}

func NewMemoryKV(opts ...MemoryKVOption) *MemoryKV {
	s := &MemoryKV{items: make(map[string]memoryItem), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !it.expiresAt.IsZero() && !s.clock().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (s *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.clock().Add(ttl)
	}
	s.items[key] = it
	return nil
}
