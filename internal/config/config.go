// Package config carrega a configuração do worker de variáveis de ambiente,
// de um .env opcional e de um config.yaml opcional. O ambiente tem precedência.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Redis    RedisConfig
	Queue    QueueConfig
	Retry    RetryConfig
	Tracking TrackingConfig
	Stats    StatsConfig
	Log      LogConfig
	HTTP     HTTPConfig

	// KeyPrefix prefixa todas as chaves do Redis (janela, config, cache, trackers).
	KeyPrefix        string
	ScheduleInterval time.Duration
	SearchBaseURL    string
	AdminAddr        string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Name        string
	Concurrency int
	// PerType limita jobs simultâneos por tipo, ex: WORKER_CONCURRENCY_PER_TYPE=search=1,update=2.
	PerType        map[string]int
	AcquireTimeout time.Duration
	// VisibilityTimeout é o prazo para um job retirado voltar à fila se o worker sumir.
	// 0 usa JobTimeout + 1m.
	VisibilityTimeout time.Duration
	// RateRPS <= 0 desliga o limite de início de jobs.
	RateRPS    float64
	RateBurst  int
	JobTimeout time.Duration
	Attempts   int
	Backoff    time.Duration
}

// RetryConfig é o backoff de 429 dentro de uma tentativa do job.
type RetryConfig struct {
	Attempts    int
	BackoffBase time.Duration
}

type TrackingConfig struct {
	Backend     string
	DatabaseURL string
}

type StatsConfig struct {
	Enabled bool
	TTL     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// LoadOptions aponta arquivos opcionais. Arquivo inexistente não é erro.
type LoadOptions struct {
	EnvFile    string
	ConfigFile string
}

var defaults = map[string]any{
	"REDIS_ADDR":                  "127.0.0.1:6379",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"KEY_PREFIX":                  "throttle",
	"QUEUE_NAME":                  "scrape",
	"WORKER_CONCURRENCY":          1,
	"WORKER_CONCURRENCY_PER_TYPE": "",
	"QUEUE_ACQUIRE_TIMEOUT":       "5s",
	"QUEUE_VISIBILITY_TIMEOUT":    "0s",
	"QUEUE_RATE_RPS":              0.5,
	"QUEUE_RATE_BURST":            1,
	"JOB_TIMEOUT":                 "10m",
	"JOB_ATTEMPTS":                3,
	"JOB_BACKOFF":                 "1m",
	"RETRY_ATTEMPTS":              3,
	"RETRY_BACKOFF_BASE":          "30s",
	"SCHEDULE_INTERVAL":           "6h",
	"TRACKING_BACKEND":            "redis",
	"DATABASE_URL":                "",
	"SEARCH_BASE_URL":             "https://www.ebay.com/sch/i.html",
	"ADMIN_ADDR":                  ":8081",
	"STATS_ENABLED":               true,
	"STATS_TTL":                   "24h",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"HTTP_TIMEOUT":                "30s",
	"USER_AGENT":                  "scrape-throttle/1.0",
}

func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	perType, err := parsePerType(v.GetString("WORKER_CONCURRENCY_PER_TYPE"))
	if err != nil {
		return nil, err
	}
	cfg.Queue.PerType = perType
	if cfg.Queue.VisibilityTimeout <= 0 {
		cfg.Queue.VisibilityTimeout = cfg.Queue.JobTimeout + time.Minute
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Queue: QueueConfig{
			Name:              v.GetString("QUEUE_NAME"),
			Concurrency:       v.GetInt("WORKER_CONCURRENCY"),
			AcquireTimeout:    v.GetDuration("QUEUE_ACQUIRE_TIMEOUT"),
			VisibilityTimeout: v.GetDuration("QUEUE_VISIBILITY_TIMEOUT"),
			RateRPS:           v.GetFloat64("QUEUE_RATE_RPS"),
			RateBurst:         v.GetInt("QUEUE_RATE_BURST"),
			JobTimeout:        v.GetDuration("JOB_TIMEOUT"),
			Attempts:          v.GetInt("JOB_ATTEMPTS"),
			Backoff:           v.GetDuration("JOB_BACKOFF"),
		},
		Retry: RetryConfig{
			Attempts:    v.GetInt("RETRY_ATTEMPTS"),
			BackoffBase: v.GetDuration("RETRY_BACKOFF_BASE"),
		},
		Tracking: TrackingConfig{
			Backend:     strings.ToLower(strings.TrimSpace(v.GetString("TRACKING_BACKEND"))),
			DatabaseURL: v.GetString("DATABASE_URL"),
		},
		Stats: StatsConfig{
			Enabled: v.GetBool("STATS_ENABLED"),
			TTL:     v.GetDuration("STATS_TTL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		HTTP: HTTPConfig{
			Timeout:   v.GetDuration("HTTP_TIMEOUT"),
			UserAgent: v.GetString("USER_AGENT"),
		},
		KeyPrefix:        v.GetString("KEY_PREFIX"),
		ScheduleInterval: v.GetDuration("SCHEDULE_INTERVAL"),
		SearchBaseURL:    v.GetString("SEARCH_BASE_URL"),
		AdminAddr:        v.GetString("ADMIN_ADDR"),
	}
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR must be set")
	}
	if c.Queue.Name == "" {
		return errors.New("QUEUE_NAME must be set")
	}
	if c.Queue.Concurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be > 0")
	}
	if c.Queue.JobTimeout > 0 && c.Queue.VisibilityTimeout <= c.Queue.JobTimeout {
		return errors.New("QUEUE_VISIBILITY_TIMEOUT must be greater than JOB_TIMEOUT")
	}
	if c.Queue.RateRPS > 0 && c.Queue.RateBurst <= 0 {
		return errors.New("QUEUE_RATE_BURST must be > 0 when QUEUE_RATE_RPS is set")
	}
	if c.Queue.Attempts <= 0 {
		return errors.New("JOB_ATTEMPTS must be > 0")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("RETRY_ATTEMPTS must be > 0")
	}
	if c.Retry.BackoffBase <= 0 {
		return errors.New("RETRY_BACKOFF_BASE must be > 0")
	}
	if c.ScheduleInterval <= 0 {
		return errors.New("SCHEDULE_INTERVAL must be > 0")
	}
	switch c.Tracking.Backend {
	case "redis":
	case "postgres":
		if c.Tracking.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when TRACKING_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("TRACKING_BACKEND must be redis or postgres, got %q", c.Tracking.Backend)
	}
	return nil
}

// parsePerType lê "tipo=n,tipo=n". Vazio devolve nil.
func parsePerType(raw string) (map[string]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		name, n, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("WORKER_CONCURRENCY_PER_TYPE: invalid entry %q", part)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("WORKER_CONCURRENCY_PER_TYPE: limit for %q must be a positive integer", name)
		}
		out[name] = limit
	}
	return out, nil
}
