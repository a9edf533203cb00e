package infra

import (
	"context"
	"testing"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func windowStores(t *testing.T) map[string]domain.WindowStore {
	_, rdb := newTestRedis(t)
	return map[string]domain.WindowStore{
		"memory": NewMemoryWindowStore(),
		"redis":  NewRedisWindowStore(rdb),
	}
}

func TestWindowStore_AdmitCountsBeforeInsert(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, store := range windowStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			snap, err := store.Admit(ctx, "w:a.com", domain.WindowEntry{At: base, Member: "1"}, base.Add(-time.Minute), time.Minute)
			require.NoError(t, err)
			require.Equal(t, 0, snap.Count)
			require.True(t, snap.Oldest.IsZero())

			snap, err = store.Admit(ctx, "w:a.com", domain.WindowEntry{At: base.Add(time.Second), Member: "2"}, base.Add(time.Second-time.Minute), time.Minute)
			require.NoError(t, err)
			require.Equal(t, 1, snap.Count)
			require.Equal(t, base.UnixMilli(), snap.Oldest.UnixMilli())
		})
	}
}

func TestWindowStore_PrunesExpiredEntries(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, store := range windowStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, m := range []string{"a", "b", "c"} {
				_, err := store.Admit(ctx, "w:p.com", domain.WindowEntry{At: base.Add(time.Duration(i) * time.Second), Member: m}, base.Add(-time.Hour), time.Hour)
				require.NoError(t, err)
			}

			// janela começando exatamente no segundo "b": a e b saem, c fica.
			now := base.Add(time.Minute)
			snap, err := store.Admit(ctx, "w:p.com", domain.WindowEntry{At: now, Member: "d"}, base.Add(time.Second), time.Hour)
			require.NoError(t, err)
			require.Equal(t, 1, snap.Count)
			require.Equal(t, base.Add(2*time.Second).UnixMilli(), snap.Oldest.UnixMilli())
		})
	}
}

func TestWindowStore_PeekDoesNotInsert(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, store := range windowStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Admit(ctx, "w:k.com", domain.WindowEntry{At: base, Member: "x"}, base.Add(-time.Minute), time.Minute)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				snap, err := store.Peek(ctx, "w:k.com", base.Add(-time.Minute))
				require.NoError(t, err)
				require.Equal(t, 1, snap.Count)
			}

			snap, err := store.Peek(ctx, "w:k.com", base)
			require.NoError(t, err)
			require.Equal(t, 0, snap.Count)
		})
	}
}

func TestWindowStore_RemoveAndClear(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, store := range windowStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, m := range []string{"a", "b"} {
				_, err := store.Admit(ctx, "w:r.com", domain.WindowEntry{At: base.Add(time.Duration(i) * time.Millisecond), Member: m}, base.Add(-time.Minute), time.Minute)
				require.NoError(t, err)
			}

			require.NoError(t, store.Remove(ctx, "w:r.com", "a"))
			snap, err := store.Peek(ctx, "w:r.com", base.Add(-time.Minute))
			require.NoError(t, err)
			require.Equal(t, 1, snap.Count)

			require.NoError(t, store.Clear(ctx, "w:r.com"))
			snap, err = store.Peek(ctx, "w:r.com", base.Add(-time.Minute))
			require.NoError(t, err)
			require.Equal(t, 0, snap.Count)
		})
	}
}

func TestRedisWindowStore_SetsExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisWindowStore(rdb)

	now := time.Now()
	_, err := store.Admit(context.Background(), "w:ttl.com", domain.WindowEntry{At: now, Member: "m"}, now.Add(-time.Minute), 61*time.Second)
	require.NoError(t, err)
	require.Equal(t, 61*time.Second, mr.TTL("w:ttl.com"))
}

func TestRedisWindowStore_ErrorWhenUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewRedisWindowStore(rdb)
	mr.Close()

	now := time.Now()
	_, err := store.Admit(context.Background(), "w:down.com", domain.WindowEntry{At: now, Member: "m"}, now.Add(-time.Minute), time.Minute)
	require.Error(t, err)
}
