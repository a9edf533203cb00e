package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scrape-throttle/internal/config"
	"scrape-throttle/internal/logging"
	"scrape-throttle/throttle"
	"scrape-throttle/throttle/application"
	"scrape-throttle/throttle/domain"
	"scrape-throttle/throttle/infra"
	"scrape-throttle/worker/queue"
	"scrape-throttle/worker/scrape"
)

// app concentra as dependências montadas a partir da configuração.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	rdb      *redis.Client
	registry *application.Registry
	service  *application.Service
	stats    *infra.RedisStatsStore
	queue    *queue.Queue
	closers  []func()
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{EnvFile: flags.envFile, ConfigFile: flags.configFile})
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a := &app{cfg: cfg, log: log, rdb: rdb}
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err = rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}

	a.registry = application.NewRegistry(infra.NewRedisKV(rdb),
		application.WithSnapshotKey(cfg.KeyPrefix+":config"),
		application.WithRegistryLogger(log),
	)
	a.registry.LoadFromStore(ctx)

	svcOpts := []application.ServiceOption{
		application.WithKeyPrefix(cfg.KeyPrefix),
		application.WithLocalSpacing(application.NewLocalSpacing()),
		application.WithLogger(log),
	}
	if cfg.Stats.Enabled {
		a.stats = infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cfg.KeyPrefix+":stats"),
			infra.WithStatsTTL(cfg.Stats.TTL),
		)
		svcOpts = append(svcOpts, application.WithStats(a.stats))
	}
	a.service = application.NewService(a.registry, infra.NewRedisWindowStore(rdb), svcOpts...)

	a.queue = queue.New(rdb, cfg.Queue.Name,
		queue.WithPrefix(cfg.KeyPrefix),
		queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		queue.WithLogger(log),
	)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func (a *app) statsReader() domain.StatsReader {
	if a.stats == nil {
		return nil
	}
	return a.stats
}

func (a *app) trackingStore(ctx context.Context) (scrape.TrackingStore, error) {
	if a.cfg.Tracking.Backend != "postgres" {
		return scrape.NewRedisTrackingStore(a.rdb, a.cfg.KeyPrefix), nil
	}
	pool, err := scrape.OpenPostgres(ctx, a.cfg.Tracking.DatabaseURL, 4)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return scrape.NewPostgresTrackingStore(pool), nil
}

func (a *app) processor(ctx context.Context) (*scrape.Processor, error) {
	trackers, err := a.trackingStore(ctx)
	if err != nil {
		return nil, err
	}
	fetcher := throttle.NewHTTPFetcher(
		throttle.WithUserAgent(a.cfg.HTTP.UserAgent),
		throttle.WithHTTPClient(newHTTPClient(a.cfg.HTTP.Timeout)),
	)
	exec := application.NewExecutor(a.service,
		application.WithBackoffBase(a.cfg.Retry.BackoffBase),
		application.WithMaxAttempts(a.cfg.Retry.Attempts),
		application.WithExecutorLogger(a.log),
	)
	market := scrape.FetchingMarketplace{
		Fetcher:       fetcher,
		Extractor:     scrape.SyntheticExtractor{},
		SearchBaseURL: a.cfg.SearchBaseURL,
	}
	cache := scrape.NewSearchCache(infra.NewRedisKV(a.rdb), a.cfg.KeyPrefix, scrape.DefaultSearchCacheTTL)
	return scrape.NewProcessor(exec, market, trackers, cache,
		scrape.WithRetryAttempts(a.cfg.Retry.Attempts),
		scrape.WithProcessorLogger(a.log),
	), nil
}

func (a *app) queueLimiter() *rate.Limiter {
	if a.cfg.Queue.RateRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(a.cfg.Queue.RateRPS), a.cfg.Queue.RateBurst)
}

// run monta o app, executa fn e libera os recursos.
func run(ctx context.Context, flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
