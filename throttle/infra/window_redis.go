package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/redis/go-redis/v9"
)

// RedisWindowStore implementa domain.WindowStore com um sorted set por domínio
// (score = epoch ms, member = timestamp + nonce).
type RedisWindowStore struct {
	rdb redis.Cmdable
}

func NewRedisWindowStore(rdb redis.Cmdable) *RedisWindowStore {
	return &RedisWindowStore{rdb: rdb}
}

// Admit roda poda, contagem, leitura da mais antiga, inserção e expiração num único MULTI/EXEC.
// A contagem devolvida é a anterior à inserção.
func (s *RedisWindowStore) Admit(ctx context.Context, key string, entry domain.WindowEntry, windowStart time.Time, ttl time.Duration) (domain.WindowSnapshot, error) {
	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", msString(windowStart))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.At.UnixMilli()), Member: entry.Member})
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return domain.WindowSnapshot{}, fmt.Errorf("window admit %s: %w", key, err)
	}

	return snapshotOf(card.Val(), oldest.Val()), nil
}

func (s *RedisWindowStore) Remove(ctx context.Context, key, member string) error {
	if err := s.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("window remove %s: %w", key, err)
	}
	return nil
}

func (s *RedisWindowStore) Peek(ctx context.Context, key string, windowStart time.Time) (domain.WindowSnapshot, error) {
	lower := "(" + msString(windowStart)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.ZCount(ctx, key, lower, "+inf")
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: lower, Max: "+inf", Offset: 0, Count: 1})
		return nil
	})
	if err != nil {
		return domain.WindowSnapshot{}, fmt.Errorf("window peek %s: %w", key, err)
	}

	return snapshotOf(count.Val(), oldest.Val()), nil
}

func (s *RedisWindowStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("window clear %s: %w", key, err)
	}
	return nil
}

func snapshotOf(count int64, oldest []redis.Z) domain.WindowSnapshot {
	snap := domain.WindowSnapshot{Count: int(count)}
	if len(oldest) > 0 {
		snap.Oldest = time.UnixMilli(int64(oldest[0].Score))
	}
	return snap
}

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
