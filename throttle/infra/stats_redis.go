package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal (buckets por minuto).
	// Os contadores por domínio são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "throttle:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	key := strings.TrimSpace(ev.Key)
	if key == "" {
		key = domain.DefaultKey
	}

	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, s.domainsKey(), key)
	pipe.HIncrBy(ctx, s.counterKey(key), field, 1)
	if ev.Reason != "" {
		pipe.HIncrBy(ctx, s.counterKey(key), "reason:"+ev.Reason, 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, key+":"+field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ByKey implementa domain.StatsReader.
func (s *RedisStatsStore) ByKey(ctx context.Context) (map[string]domain.Counters, error) {
	keys, err := s.rdb.SMembers(ctx, s.domainsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("stats domains: %w", err)
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(keys))
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		cmds[k] = pipe.HGetAll(ctx, s.counterKey(k))
	}
	if len(keys) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("stats counters: %w", err)
		}
	}

	out := make(map[string]domain.Counters, len(keys))
	for k, cmd := range cmds {
		vals := cmd.Val()
		out[k] = domain.Counters{
			Allowed: parseInt64(vals["allowed"]),
			Denied:  parseInt64(vals["denied"]),
		}
	}
	return out, nil
}

func (s *RedisStatsStore) domainsKey() string { return s.prefix + ":domains" }

func (s *RedisStatsStore) counterKey(k string) string { return s.prefix + ":domain:" + k }

func parseInt64(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
