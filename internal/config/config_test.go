package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	require.Equal(t, "throttle", cfg.KeyPrefix)
	require.Equal(t, 1, cfg.Queue.Concurrency)
	require.Equal(t, 30*time.Second, cfg.Retry.BackoffBase)
	require.Equal(t, 3, cfg.Retry.Attempts)
	require.Equal(t, time.Minute, cfg.Queue.Backoff)
	require.Equal(t, "redis", cfg.Tracking.Backend)
	require.True(t, cfg.Stats.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("RETRY_BACKOFF_BASE", "5s")
	t.Setenv("QUEUE_RATE_RPS", "2.5")
	t.Setenv("TRACKING_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/scrape")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "redis:6380", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Queue.Concurrency)
	require.Equal(t, 5*time.Second, cfg.Retry.BackoffBase)
	require.Equal(t, 2.5, cfg.Queue.RateRPS)
	require.Equal(t, "postgres", cfg.Tracking.Backend)
}

func TestLoad_FilesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("KEY_PREFIX=fromdotenv\n"), 0o600))
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("QUEUE_NAME: fromyaml\nADMIN_ADDR: \":9000\"\n"), 0o600))

	t.Setenv("ADMIN_ADDR", ":9100")
	// godotenv não sobrescreve o que já existe no ambiente; garante limpeza depois do teste.
	t.Setenv("KEY_PREFIX", "")
	require.NoError(t, os.Unsetenv("KEY_PREFIX"))

	cfg, err := Load(LoadOptions{EnvFile: envFile, ConfigFile: cfgFile})
	require.NoError(t, err)
	require.Equal(t, "fromdotenv", cfg.KeyPrefix)
	require.Equal(t, "fromyaml", cfg.Queue.Name)
	require.Equal(t, ":9100", cfg.AdminAddr)
}

func TestLoad_MissingFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoadOptions{
		EnvFile:    filepath.Join(dir, "nope.env"),
		ConfigFile: filepath.Join(dir, "nope.yaml"),
	})
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no redis":         func(c *Config) { c.Redis.Addr = "" },
		"zero concurrency": func(c *Config) { c.Queue.Concurrency = 0 },
		"burst missing": func(c *Config) {
			c.Queue.RateRPS = 1
			c.Queue.RateBurst = 0
		},
		"postgres no dsn": func(c *Config) {
			c.Tracking.Backend = "postgres"
			c.Tracking.DatabaseURL = ""
		},
		"unknown backend":   func(c *Config) { c.Tracking.Backend = "mongo" },
		"zero retry base":   func(c *Config) { c.Retry.BackoffBase = 0 },
		"zero job attempts": func(c *Config) { c.Queue.Attempts = 0 },
		"lease below job timeout": func(c *Config) {
			c.Queue.JobTimeout = time.Minute
			c.Queue.VisibilityTimeout = time.Minute
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(LoadOptions{})
			require.NoError(t, err)
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_PerTypeConcurrencyAndVisibility(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY_PER_TYPE", "search=1, update=3")
	t.Setenv("JOB_TIMEOUT", "2m")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"search": 1, "update": 3}, cfg.Queue.PerType)
	require.Equal(t, 3*time.Minute, cfg.Queue.VisibilityTimeout)
	require.Equal(t, 5*time.Second, cfg.Queue.AcquireTimeout)
}

func TestLoad_InvalidPerTypeConcurrency(t *testing.T) {
	for _, raw := range []string{"search", "search=0", "=2", "update=x"} {
		t.Setenv("WORKER_CONCURRENCY_PER_TYPE", raw)
		_, err := Load(LoadOptions{})
		require.Error(t, err, raw)
	}
}
