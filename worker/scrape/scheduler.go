package scrape

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"scrape-throttle/throttle/application"
	"scrape-throttle/throttle/domain"
	"scrape-throttle/worker/queue"
)

const (
	DefaultScheduleInterval = 6 * time.Hour
	DefaultUpdateAttempts   = 3
	DefaultUpdateBackoff    = time.Minute
)

// Enqueuer é o lado produtor da fila.
type Enqueuer interface {
	Add(ctx context.Context, name string, payload any, opts queue.JobOptions) (string, error)
}

// Scheduler enfileira um job update por tracker, espalhados ao longo de uma janela.
type Scheduler struct {
	Trackers TrackingStore
	Queue    Enqueuer
	// Registry dá a janela do domínio de cada tracker (nil usa o padrão de "default").
	Registry *application.Registry
	Interval time.Duration
	Attempts int
	Backoff  time.Duration
	// Jitter devolve um valor em [0, n); padrão math/rand/v2.
	Jitter func(n int64) int64
	Logger *zap.Logger
}

func (s *Scheduler) withDefaults() Scheduler {
	out := *s
	if out.Interval <= 0 {
		out.Interval = DefaultScheduleInterval
	}
	if out.Attempts <= 0 {
		out.Attempts = DefaultUpdateAttempts
	}
	if out.Backoff <= 0 {
		out.Backoff = DefaultUpdateBackoff
	}
	if out.Jitter == nil {
		out.Jitter = rand.Int64N
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Registry == nil {
		out.Registry = application.NewRegistry(nil)
	}
	return out
}

// EnqueueAll enfileira um update por tracker conhecido e devolve quantos entraram.
// Um tracker que falha ao enfileirar não interrompe os demais.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	cfg := s.withDefaults()

	ids, err := cfg.Trackers.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, id := range ids {
		window := cfg.Registry.Get(domain.DefaultKey).Window
		if t, err := cfg.Trackers.Get(ctx, id); err == nil {
			window = cfg.Registry.Get(domain.KeyFromURL(t.URL)).Window
		}

		var delay time.Duration
		if window > 0 {
			delay = time.Duration(cfg.Jitter(int64(window)))
		}

		_, err := cfg.Queue.Add(ctx, JobUpdate, JobData{Type: JobUpdate, CompetitorID: id}, queue.JobOptions{
			Delay:    delay,
			Attempts: cfg.Attempts,
			Backoff:  cfg.Backoff,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}

	cfg.Logger.Info("scheduled competitor updates", zap.Int("enqueued", n), zap.Int("trackers", len(ids)))
	return n, errors.Join(errs...)
}

// Run chama EnqueueAll agora e depois a cada Interval, até ctx encerrar.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.withDefaults()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.EnqueueAll(ctx); err != nil && ctx.Err() == nil {
			cfg.Logger.Warn("schedule competitor updates failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
