package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scrape-throttle/throttle/application"
	"scrape-throttle/worker/queue"
)

// Processor executa os jobs search/update.
type Processor struct {
	exec     *application.Executor
	market   Marketplace
	trackers TrackingStore
	cache    *SearchCache
	attempts int
	clock    func() time.Time
	logger   *zap.Logger
}

type ProcessorOption func(*Processor)

// WithRetryAttempts é o máximo de tentativas por chamada de saída dentro de um job.
func WithRetryAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func WithProcessorClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcessor monta o processador. cache pode ser nil (resultados de busca não são guardados).
func NewProcessor(exec *application.Executor, market Marketplace, trackers TrackingStore, cache *SearchCache, opts ...ProcessorOption) *Processor {
	p := &Processor{
		exec:     exec,
		market:   market,
		trackers: trackers,
		cache:    cache,
		attempts: application.DefaultMaxAttempts,
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle é o queue.Handler da fila de scraping.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	var data JobData
	if err := job.Decode(&data); err != nil {
		return queue.Unrecoverable(fmt.Errorf("%w: decode payload: %v", ErrInvalidJob, err))
	}
	if data.Type == "" {
		data.Type = job.Name
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("job_type", data.Type), zap.Int("attempt", job.Attempt+1))
	return p.run(ctx, data, log)
}

// Process executa um job fora da fila.
func (p *Processor) Process(ctx context.Context, data JobData) error {
	return p.run(ctx, data, p.logger.With(zap.String("job_type", data.Type)))
}

func (p *Processor) run(ctx context.Context, data JobData, log *zap.Logger) error {
	var err error
	switch data.Type {
	case JobSearch:
		_, err = p.search(ctx, data, log)
	case JobUpdate:
		_, err = p.update(ctx, data, log)
	default:
		err = queue.Unrecoverable(fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, data.Type))
	}
	if err != nil {
		log.Warn("scrape job failed", zap.Error(err))
	}
	return err
}

func (p *Processor) search(ctx context.Context, data JobData, log *zap.Logger) ([]SearchResult, error) {
	query := data.Query()
	if query == "" {
		return nil, queue.Unrecoverable(fmt.Errorf("%w: search job needs searchQuery or productTitle", ErrInvalidJob))
	}

	results, err := application.Execute(ctx, p.exec, p.market.SearchURL(query), p.attempts,
		func(ctx context.Context) ([]SearchResult, error) {
			return p.market.Search(ctx, query)
		})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	if data.ListingID != "" && p.cache != nil {
		entry := CachedSearch{Query: query, Results: results, FetchedAt: p.clock()}
		if err := p.cache.Put(ctx, data.ListingID, entry); err != nil {
			return nil, fmt.Errorf("cache search results: %w", err)
		}
	}

	log.Info("search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

func (p *Processor) update(ctx context.Context, data JobData, log *zap.Logger) (Tracker, error) {
	if data.CompetitorID == "" {
		return Tracker{}, queue.Unrecoverable(fmt.Errorf("%w: update job needs competitorId", ErrInvalidJob))
	}

	t, err := p.trackers.Get(ctx, data.CompetitorID)
	if errors.Is(err, ErrTrackingNotFound) {
		return Tracker{}, queue.Unrecoverable(err)
	}
	if err != nil {
		return Tracker{}, err
	}

	price, err := application.Execute(ctx, p.exec, t.URL, p.attempts,
		func(ctx context.Context) (float64, error) {
			return p.market.CurrentPrice(ctx, t)
		})
	if err != nil {
		return Tracker{}, fmt.Errorf("update tracker %s: %w", t.ID, err)
	}

	previous := t.CompetitorPrice
	t, err = p.trackers.RecordPrice(ctx, t.ID, price, p.clock())
	if errors.Is(err, ErrTrackingNotFound) {
		return Tracker{}, queue.Unrecoverable(err)
	}
	if err != nil {
		return Tracker{}, err
	}

	log.Info("competitor price updated",
		zap.String("competitor_id", t.ID),
		zap.Float64("previous", previous),
		zap.Float64("price", price),
	)
	return t, nil
}
