package infra

import (
	"context"
	"testing"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_CountsByKeyAndReason(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ebay.com", Allowed: true, Reason: domain.ReasonAdmitted}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ebay.com", Allowed: false, Reason: domain.ReasonWindowFull}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "mercari.com", Allowed: false, Reason: domain.ReasonLocalDelay}))

	require.Equal(t, domain.Counters{Allowed: 1, Denied: 2}, s.Total())

	byKey, err := s.ByKey(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Counters{Allowed: 1, Denied: 1}, byKey["ebay.com"])
	require.Equal(t, domain.Counters{Denied: 1}, byKey["mercari.com"])
	require.Equal(t, int64(1), s.ByReason()[domain.ReasonLocalDelay])
}

func TestRedisStatsStore_RecordAndRead(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("t:stats:"), WithStatsTTL(time.Hour))
	ctx := context.Background()
	at := time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ebay.com", Allowed: true, Reason: domain.ReasonAdmitted, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ebay.com", Allowed: false, Reason: domain.ReasonWindowFull, At: at}))

	byKey, err := s.ByKey(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Counters{Allowed: 1, Denied: 1}, byKey["ebay.com"])

	require.Equal(t, "1", mr.HGet("t:stats:domain:ebay.com", "reason:window_full"))
	require.Equal(t, "1", mr.HGet("t:stats:minute:202503040506", "ebay.com:allowed"))
	require.Equal(t, time.Hour, mr.TTL("t:stats:minute:202503040506"))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Key: "x"}))
}
