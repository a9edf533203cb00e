package scrape

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrape-throttle/throttle/application"
	"scrape-throttle/throttle/domain"
	"scrape-throttle/worker/queue"
)

type addedJob struct {
	name string
	data JobData
	opts queue.JobOptions
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []addedJob
	fail map[string]bool
}

func (e *fakeEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func (e *fakeEnqueuer) Add(_ context.Context, name string, payload any, opts queue.JobOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data := payload.(JobData)
	if e.fail[data.CompetitorID] {
		return "", errors.New("redis down")
	}
	e.jobs = append(e.jobs, addedJob{name: name, data: data, opts: opts})
	return "id-" + data.CompetitorID, nil
}

func TestScheduler_EnqueuesOneUpdatePerTracker(t *testing.T) {
	trackers := newMemoryTrackers(
		Tracker{ID: "a", URL: "https://jp.mercari.com/item/1"},
		Tracker{ID: "b", URL: "https://www.ebay.com/itm/2"},
		Tracker{ID: "c", URL: "https://unknown.example/3"},
	)
	reg := application.NewRegistry(nil)
	win := int64(10_000)
	_, err := reg.Set("mercari.com", domain.ConfigPatch{WindowMs: &win})
	require.NoError(t, err)

	var windows []int64
	enq := &fakeEnqueuer{}
	s := &Scheduler{
		Trackers: trackers,
		Queue:    enq,
		Registry: reg,
		Jitter: func(n int64) int64 {
			windows = append(windows, n)
			return n - 1
		},
	}

	n, err := s.EnqueueAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, enq.jobs, 3)

	ids := make([]string, 0, 3)
	for _, j := range enq.jobs {
		require.Equal(t, JobUpdate, j.name)
		require.Equal(t, JobUpdate, j.data.Type)
		require.Equal(t, 3, j.opts.Attempts)
		require.Equal(t, time.Minute, j.opts.Backoff)
		ids = append(ids, j.data.CompetitorID)
	}
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b", "c"}, ids)

	sort.Slice(windows, func(i, k int) bool { return windows[i] < windows[k] })
	require.Equal(t, []int64{int64(10 * time.Second), int64(time.Minute), int64(time.Minute)}, windows)

	for _, j := range enq.jobs {
		if j.data.CompetitorID == "a" {
			require.Less(t, j.opts.Delay, 10*time.Second)
		}
	}
}

func TestScheduler_DefaultJitterStaysInsideWindow(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := &Scheduler{Trackers: newMemoryTrackers(Tracker{ID: "a", URL: "https://www.ebay.com/itm/1"}), Queue: enq}

	for i := 0; i < 20; i++ {
		_, err := s.EnqueueAll(context.Background())
		require.NoError(t, err)
	}
	for _, j := range enq.jobs {
		require.GreaterOrEqual(t, j.opts.Delay, time.Duration(0))
		require.Less(t, j.opts.Delay, time.Minute)
	}
}

func TestScheduler_ContinuesPastEnqueueErrors(t *testing.T) {
	enq := &fakeEnqueuer{fail: map[string]bool{"b": true}}
	s := &Scheduler{
		Trackers: newMemoryTrackers(Tracker{ID: "a"}, Tracker{ID: "b"}, Tracker{ID: "c"}),
		Queue:    enq,
	}

	n, err := s.EnqueueAll(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, n)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	enq := &fakeEnqueuer{}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		Trackers: newMemoryTrackers(Tracker{ID: "a"}),
		Queue:    enq,
		Interval: time.Hour,
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return enq.count() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
