package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scrape-throttle/throttle/domain"
	"scrape-throttle/throttle/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingWindow struct {
	domain.WindowStore
	admits atomic.Int64
}

func (w *countingWindow) Admit(ctx context.Context, key string, e domain.WindowEntry, start time.Time, ttl time.Duration) (domain.WindowSnapshot, error) {
	w.admits.Add(1)
	return w.WindowStore.Admit(ctx, key, e, start, ttl)
}

type slowWindow struct {
	domain.WindowStore
	delay time.Duration
}

func (w slowWindow) Admit(ctx context.Context, key string, e domain.WindowEntry, start time.Time, ttl time.Duration) (domain.WindowSnapshot, error) {
	time.Sleep(w.delay)
	return w.WindowStore.Admit(ctx, key, e, start, ttl)
}

type brokenWindow struct{ domain.WindowStore }

func (brokenWindow) Admit(context.Context, string, domain.WindowEntry, time.Time, time.Duration) (domain.WindowSnapshot, error) {
	return domain.WindowSnapshot{}, errors.New("dial tcp: connection refused")
}

func newTestService(t *testing.T, window domain.WindowStore, clock *fakeClock, cfg domain.RateLimitConfig, opts ...ServiceOption) *Service {
	t.Helper()
	reg := NewRegistry(nil)
	win := int64(cfg.Window / time.Millisecond)
	delay := int64(cfg.MinDelay / time.Millisecond)
	_, err := reg.Set(cfg.Domain, domain.ConfigPatch{
		RequestsPerWindow: &cfg.RequestsPerWindow,
		WindowMs:          &win,
		MinDelayMs:        &delay,
	})
	require.NoError(t, err)
	return NewService(reg, window, append([]ServiceOption{WithClock(clock.Now)}, opts...)...)
}

func TestService_ColdStartAdmitsImmediately(t *testing.T) {
	svc := NewService(NewRegistry(nil), infra.NewMemoryWindowStore())
	for _, u := range []string{"https://www.ebay.com/itm/1", "https://jp.mercari.com/item/2", "https://nowhere.example/"} {
		require.Zero(t, svc.Check(context.Background(), u), u)
	}
}

func TestService_ConcreteScenario(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "t.example", RequestsPerWindow: 2, Window: 60 * time.Second, MinDelay: time.Second,
	})
	ctx := context.Background()
	url := "https://t.example/search?q=widget"

	require.Zero(t, svc.Check(ctx, url))

	wait := svc.Check(ctx, url)
	require.GreaterOrEqual(t, wait, time.Second)

	clock.Advance(wait)
	require.Zero(t, svc.Check(ctx, url))

	wait = svc.Check(ctx, url)
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, 60*time.Second)
}

func TestService_MinDelaySpacingIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "spacing.example", RequestsPerWindow: 100, Window: time.Minute, MinDelay: 500 * time.Millisecond,
	})
	ctx := context.Background()
	url := "https://spacing.example/"

	require.Zero(t, svc.Check(ctx, url))
	for i := 0; i < 5; i++ {
		require.Equal(t, 500*time.Millisecond, svc.Check(ctx, url))
	}

	clock.Advance(200 * time.Millisecond)
	require.Equal(t, 300*time.Millisecond, svc.Check(ctx, url))

	clock.Advance(300 * time.Millisecond)
	require.Zero(t, svc.Check(ctx, url))
	require.Equal(t, 500*time.Millisecond, svc.Check(ctx, url))
}

func TestService_WindowExhaustionWaitsForOldestEntry(t *testing.T) {
	clock := newFakeClock()
	window := infra.NewMemoryWindowStore()
	svc := newTestService(t, window, clock, domain.RateLimitConfig{
		Domain: "k.example", RequestsPerWindow: 3, Window: 10 * time.Second,
	})
	ctx := context.Background()
	url := "https://k.example/"

	for i := 0; i < 3; i++ {
		require.Zero(t, svc.Check(ctx, url))
		clock.Advance(time.Second)
	}

	wait := svc.Check(ctx, url)
	require.Equal(t, 7*time.Second, wait)
	require.LessOrEqual(t, wait, 10*time.Second)

	// a checagem recusada não deixa entrada fantasma na janela.
	st, err := svc.Status(ctx, "k.example")
	require.NoError(t, err)
	require.Equal(t, 3, st.CurrentCount)
	require.False(t, st.CanRequest)
	require.Equal(t, int64(7000), st.ResetMs)

	clock.Advance(wait)
	require.Zero(t, svc.Check(ctx, url))
}

// Uma checagem recusada tira a própria entrada da janela: a contagem fica no limite
// e um worker sozinho esperando acaba admitido quando a entrada mais antiga expira.
func TestService_RejectedCheckRemovesItsEntrySoWaiterIsAdmitted(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "w.example", RequestsPerWindow: 2, Window: time.Minute,
	})
	ctx := context.Background()
	url := "https://w.example/"

	require.Zero(t, svc.Check(ctx, url))
	clock.Advance(time.Second)
	require.Zero(t, svc.Check(ctx, url))
	clock.Advance(time.Second)

	for i := 0; i < 3; i++ {
		require.Greater(t, svc.Check(ctx, url), time.Duration(0))
	}
	st, err := svc.Status(ctx, "w.example")
	require.NoError(t, err)
	require.Equal(t, 2, st.CurrentCount)

	for i := 0; i < 10; i++ {
		wait := svc.Check(ctx, url)
		if wait == 0 {
			return
		}
		clock.Advance(wait)
	}
	t.Fatalf("expected waiter to be admitted after the oldest entry aged out")
}

func TestService_PruningBehavesLikeColdStart(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "p.example", RequestsPerWindow: 2, Window: 5 * time.Second,
	})
	ctx := context.Background()
	url := "https://p.example/"

	for round := 0; round < 3; round++ {
		require.Zero(t, svc.Check(ctx, url))
		require.Zero(t, svc.Check(ctx, url))
		require.Greater(t, svc.Check(ctx, url), time.Duration(0))

		clock.Advance(5 * time.Second)

		st, err := svc.Status(ctx, "p.example")
		require.NoError(t, err)
		require.Zero(t, st.CurrentCount, "round %d", round)
	}
}

func TestService_StoreErrorFallsBackToMinDelay(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, brokenWindow{}, clock, domain.RateLimitConfig{
		Domain: "down.example", RequestsPerWindow: 5, Window: time.Minute, MinDelay: 1500 * time.Millisecond,
	})
	require.Equal(t, 1500*time.Millisecond, svc.Check(context.Background(), "https://down.example/"))

	svc = newTestService(t, brokenWindow{}, clock, domain.RateLimitConfig{
		Domain: "down.example", RequestsPerWindow: 5, Window: time.Minute,
	}, WithStoreFallback(250*time.Millisecond))
	require.Equal(t, 250*time.Millisecond, svc.Check(context.Background(), "https://down.example/"))
}

func TestService_LocalGuardAvoidsStoreRoundTrip(t *testing.T) {
	clock := newFakeClock()
	window := &countingWindow{WindowStore: infra.NewMemoryWindowStore()}
	svc := newTestService(t, window, clock, domain.RateLimitConfig{
		Domain: "hot.example", RequestsPerWindow: 10, Window: time.Minute, MinDelay: time.Second,
	})
	ctx := context.Background()

	require.Zero(t, svc.Check(ctx, "https://hot.example/a"))
	for i := 0; i < 4; i++ {
		require.Greater(t, svc.Check(ctx, "https://hot.example/b"), time.Duration(0))
	}
	require.Equal(t, int64(1), window.admits.Load())
}

func TestService_ConcurrentChecksInOneProcessHonourMinDelay(t *testing.T) {
	clock := newFakeClock()
	window := slowWindow{WindowStore: infra.NewMemoryWindowStore(), delay: 20 * time.Millisecond}
	svc := newTestService(t, window, clock, domain.RateLimitConfig{
		Domain: "race.example", RequestsPerWindow: 10, Window: time.Minute, MinDelay: 5 * time.Second,
	})

	var (
		allowed atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Check(context.Background(), "https://race.example/") == 0 {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), allowed.Load())
}

func TestService_WindowRejectionDoesNotConsumeLocalSpacing(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "full.example", RequestsPerWindow: 1, Window: 6 * time.Second, MinDelay: 4 * time.Second,
	})
	ctx := context.Background()
	url := "https://full.example/"

	require.Zero(t, svc.Check(ctx, url))
	clock.Advance(5 * time.Second)
	wait := svc.Check(ctx, url)
	require.Equal(t, time.Second, wait)

	// o guard local segue medindo a partir da última admissão, não da recusa
	clock.Advance(wait)
	require.Zero(t, svc.Check(ctx, url))
}

func TestLocalSpacing_ReserveAndRelease(t *testing.T) {
	l := NewLocalSpacing()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	wait, release := l.Reserve("a", t0, time.Second)
	require.Zero(t, wait)
	release()
	require.Zero(t, l.Remaining("a", t0, time.Second))

	wait, _ = l.Reserve("a", t0, time.Second)
	require.Zero(t, wait)
	wait, _ = l.Reserve("a", t0.Add(300*time.Millisecond), time.Second)
	require.Equal(t, 700*time.Millisecond, wait)

	t1 := t0.Add(2 * time.Second)
	wait, release = l.Reserve("a", t1, time.Second)
	require.Zero(t, wait)
	release()
	require.Equal(t, 500*time.Millisecond, l.Remaining("a", t0.Add(500*time.Millisecond), time.Second))
}

func TestService_RecordsStats(t *testing.T) {
	clock := newFakeClock()
	stats := infra.NewMemoryStatsStore()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "s.example", RequestsPerWindow: 1, Window: time.Minute, MinDelay: time.Second,
	}, WithStats(stats))
	ctx := context.Background()

	svc.Check(ctx, "https://s.example/")
	svc.Check(ctx, "https://s.example/")
	clock.Advance(2 * time.Second)
	svc.Check(ctx, "https://s.example/")

	reasons := stats.ByReason()
	require.Equal(t, int64(1), reasons[domain.ReasonAdmitted])
	require.Equal(t, int64(1), reasons[domain.ReasonLocalDelay])
	require.Equal(t, int64(1), reasons[domain.ReasonWindowFull])
}

func TestService_ResetCounterRestoresColdStart(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, infra.NewMemoryWindowStore(), clock, domain.RateLimitConfig{
		Domain: "r.example", RequestsPerWindow: 1, Window: time.Hour, MinDelay: time.Minute,
	})
	ctx := context.Background()

	require.Zero(t, svc.Check(ctx, "https://r.example/"))
	require.Greater(t, svc.Check(ctx, "https://r.example/"), time.Duration(0))

	require.NoError(t, svc.ResetCounter(ctx, "r.example"))
	require.Zero(t, svc.Check(ctx, "https://r.example/"))
}

func TestService_StatusesCoverEveryConfiguredDomain(t *testing.T) {
	svc := NewService(NewRegistry(nil), infra.NewMemoryWindowStore())
	sts, err := svc.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, sts, len(DefaultConfigs()))
	for _, st := range sts {
		require.True(t, st.CanRequest)
		require.Equal(t, st.Limit, st.Remaining)
	}
}

// Vários "processos" (Services com guard local próprio) dividindo a mesma janela no Redis
// admitem no máximo RequestsPerWindow requisições.
func TestService_SharedRedisWindowBoundsAdmissionsAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	cfg := domain.RateLimitConfig{Domain: "shared.example", RequestsPerWindow: 3, Window: time.Minute}

	const workers = 12
	var (
		allowed atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		svc := newTestService(t, infra.NewRedisWindowStore(rdb), clock, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Check(context.Background(), "https://shared.example/item") == 0 {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(3), allowed.Load())

	peek := NewService(nil, infra.NewRedisWindowStore(rdb), WithClock(clock.Now))
	_, err := peek.Registry().Set("shared.example", domain.ConfigPatch{RequestsPerWindow: &cfg.RequestsPerWindow})
	require.NoError(t, err)
	st, err := peek.Status(context.Background(), "shared.example")
	require.NoError(t, err)
	require.Equal(t, 3, st.CurrentCount)
}
