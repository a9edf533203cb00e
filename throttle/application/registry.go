package application

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"scrape-throttle/throttle/domain"

	"go.uber.org/zap"
)

// DefaultSnapshotKey é a chave do snapshot de configurações no store compartilhado.
const DefaultSnapshotKey = "throttle:config"

// DefaultConfigs devolve as políticas embutidas. "default" sempre está presente.
func DefaultConfigs() []domain.RateLimitConfig {
	return []domain.RateLimitConfig{
		{Domain: "mercari.com", RequestsPerWindow: 10, Window: time.Minute, MinDelay: 3 * time.Second},
		{Domain: "yahoo.co.jp", RequestsPerWindow: 20, Window: time.Minute, MinDelay: 2 * time.Second},
		{Domain: "ebay.com", RequestsPerWindow: 50, Window: time.Minute, MinDelay: time.Second},
		{Domain: "rakuten.co.jp", RequestsPerWindow: 30, Window: time.Minute, MinDelay: 1500 * time.Millisecond},
		{Domain: domain.DefaultKey, RequestsPerWindow: 30, Window: time.Minute, MinDelay: time.Second},
	}
}

// Registry guarda a política de cada domínio em memória e sincroniza com o store compartilhado
// via snapshot único (last-write-wins entre processos).
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]domain.RateLimitConfig
	defaults map[string]domain.RateLimitConfig

	store  domain.KVStore
	key    string
	logger *zap.Logger
}

type RegistryOption func(*Registry)

func WithSnapshotKey(key string) RegistryOption {
	return func(r *Registry) {
		if k := strings.TrimSpace(key); k != "" {
			r.key = k
		}
	}
}

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry cria o registro já populado com DefaultConfigs. store pode ser nil
// (Load/Save viram no-op).
func NewRegistry(store domain.KVStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		configs:  make(map[string]domain.RateLimitConfig),
		defaults: make(map[string]domain.RateLimitConfig),
		store:    store,
		key:      DefaultSnapshotKey,
		logger:   zap.NewNop(),
	}
	for _, cfg := range DefaultConfigs() {
		r.configs[cfg.Domain] = cfg
		r.defaults[cfg.Domain] = cfg
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get devolve a política do domínio ou, se não houver, a de "default".
func (r *Registry) Get(key string) domain.RateLimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.configs[normalizeKey(key)]; ok {
		return cfg
	}
	return r.configs[domain.DefaultKey]
}

// Set aplica patch sobre a política atual do domínio (ou sobre "default" se o domínio é novo)
// e troca o valor inteiro. Um patch que gera política inválida não altera nada.
func (r *Registry) Set(key string, patch domain.ConfigPatch) (domain.RateLimitConfig, error) {
	key = normalizeKey(key)
	if key == "" {
		return domain.RateLimitConfig{}, errors.New("domain is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	base, ok := r.configs[key]
	if !ok {
		base = r.configs[domain.DefaultKey]
	}
	base.Domain = key

	next := patch.Apply(base)
	if err := next.Validate(); err != nil {
		return domain.RateLimitConfig{}, err
	}
	r.configs[key] = next
	return next, nil
}

// Reset volta o domínio para a política embutida. Domínios sem política embutida
// são removidos e passam a usar "default".
func (r *Registry) Reset(key string) domain.RateLimitConfig {
	key = normalizeKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if def, ok := r.defaults[key]; ok {
		r.configs[key] = def
		return def
	}
	delete(r.configs, key)
	return r.configs[domain.DefaultKey]
}

// ListAll devolve todas as políticas ordenadas por domínio.
func (r *Registry) ListAll() []domain.RateLimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RateLimitConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// LoadFromStore lê o snapshot e aplica por cima do estado atual.
// Falhas de I/O ou de deserialização só geram log: o estado em memória fica como estava.
func (r *Registry) LoadFromStore(ctx context.Context) {
	loaded, ok := r.readSnapshot(ctx)
	if !ok {
		return
	}

	r.mu.Lock()
	for k, cfg := range loaded {
		r.configs[k] = cfg
	}
	r.mu.Unlock()

	r.logger.Info("rate limit snapshot loaded", zap.String("key", r.key), zap.Int("domains", len(loaded)))
}

// Refresh é LoadFromStore para processos que só leem a configuração: além de aplicar o
// snapshot, descarta domínios sem política embutida que não estão mais nele, para que
// uma remoção feita em outro processo também chegue aqui. Sem snapshot nada muda.
func (r *Registry) Refresh(ctx context.Context) {
	loaded, ok := r.readSnapshot(ctx)
	if !ok {
		return
	}

	r.mu.Lock()
	var dropped []string
	for k := range r.configs {
		if _, builtin := r.defaults[k]; builtin {
			continue
		}
		if _, keep := loaded[k]; !keep {
			delete(r.configs, k)
			dropped = append(dropped, k)
		}
	}
	for k, cfg := range loaded {
		r.configs[k] = cfg
	}
	r.mu.Unlock()

	r.logger.Debug("rate limit snapshot refreshed",
		zap.String("key", r.key),
		zap.Int("domains", len(loaded)),
		zap.Strings("dropped", dropped),
	)
}

func (r *Registry) readSnapshot(ctx context.Context) (map[string]domain.RateLimitConfig, bool) {
	if r.store == nil {
		return nil, false
	}

	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Debug("no rate limit snapshot in store", zap.String("key", r.key))
		return nil, false
	}
	if err != nil {
		r.logger.Warn("load rate limit snapshot failed", zap.String("key", r.key), zap.Error(err))
		return nil, false
	}

	var snapshot []domain.RateLimitConfig
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		r.logger.Warn("decode rate limit snapshot failed", zap.String("key", r.key), zap.Error(err))
		return nil, false
	}

	loaded := make(map[string]domain.RateLimitConfig, len(snapshot))
	for _, cfg := range snapshot {
		cfg.Domain = normalizeKey(cfg.Domain)
		if err := cfg.Validate(); err != nil {
			r.logger.Warn("skipping invalid rate limit config", zap.String("domain", cfg.Domain), zap.Error(err))
			continue
		}
		loaded[cfg.Domain] = cfg
	}
	return loaded, true
}

// SaveToStore grava todas as políticas como um único snapshot. Falhas só geram log.
func (r *Registry) SaveToStore(ctx context.Context) {
	if r.store == nil {
		return
	}

	raw, err := json.Marshal(r.ListAll())
	if err != nil {
		r.logger.Warn("encode rate limit snapshot failed", zap.Error(err))
		return
	}
	if err := r.store.Set(ctx, r.key, raw, 0); err != nil {
		r.logger.Warn("save rate limit snapshot failed", zap.String("key", r.key), zap.Error(err))
		return
	}
	r.logger.Debug("rate limit snapshot saved", zap.String("key", r.key), zap.Int("bytes", len(raw)))
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
