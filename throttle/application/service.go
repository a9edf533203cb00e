package application

import (
	"context"
	"strconv"
	"strings"
	"time"

	"scrape-throttle/throttle/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// windowTTLSlack é somado à janela na expiração da chave; a chave some sozinha
	// se nenhum processo voltar a usá-la.
	windowTTLSlack = time.Second

	defaultStoreFallback = time.Second
)

// Service concentra a regra de admissão: espaçamento local primeiro (mais barato),
// depois a janela deslizante compartilhada.
//
// Ele não sabe nada sobre Redis nem HTTP, apenas retorna uma decisão.
type Service struct {
	registry *Registry
	window   domain.WindowStore
	local    *LocalSpacing
	stats    domain.StatsStore
	logger   *zap.Logger

	clock         func() time.Time
	nonce         func() string
	prefix        string
	storeFallback time.Duration
}

type ServiceOption func(*Service)

// WithLocalSpacing injeta o guard local. Sem ele cada Service cria o seu.
func WithLocalSpacing(l *LocalSpacing) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.local = l
		}
	}
}

func WithStats(st domain.StatsStore) ServiceOption {
	return func(s *Service) { s.stats = st }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithNonce(nonce func() string) ServiceOption {
	return func(s *Service) {
		if nonce != nil {
			s.nonce = nonce
		}
	}
}

// WithKeyPrefix define o prefixo das chaves de janela: "<prefix>:window:<domínio>".
func WithKeyPrefix(prefix string) ServiceOption {
	return func(s *Service) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStoreFallback é a espera usada quando o store falha e o domínio tem MinDelay 0.
func WithStoreFallback(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeFallback = d
		}
	}
}

func NewService(registry *Registry, window domain.WindowStore, opts ...ServiceOption) *Service {
	s := &Service{
		registry:      registry,
		window:        window,
		local:         NewLocalSpacing(),
		logger:        zap.NewNop(),
		clock:         time.Now,
		nonce:         func() string { return uuid.NewString() },
		prefix:        "throttle",
		storeFallback: defaultStoreFallback,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry(nil)
	}
	return s
}

func (s *Service) Registry() *Registry { return s.registry }

// Check devolve quanto esperar antes de tentar de novo; 0 significa "pode seguir agora".
// Nunca falha: erro no store vira uma espera conservadora.
func (s *Service) Check(ctx context.Context, rawURL string) time.Duration {
	return s.Decide(ctx, rawURL).RetryAfter
}

func (s *Service) Decide(ctx context.Context, rawURL string) domain.Decision {
	return s.DecideKey(ctx, domain.KeyFromURL(rawURL))
}

// DecideKey é Decide para um domínio já classificado.
func (s *Service) DecideKey(ctx context.Context, key string) domain.Decision {
	cfg := s.registry.Get(key)
	now := s.clock()

	wait, release := s.local.Reserve(key, now, cfg.MinDelay)
	if wait > 0 {
		s.record(ctx, key, false, domain.ReasonLocalDelay, now)
		return domain.Decision{RetryAfter: wait}
	}

	if s.window == nil {
		s.record(ctx, key, true, domain.ReasonAdmitted, now)
		return domain.Decision{Allowed: true}
	}

	entry := domain.WindowEntry{
		At:     now,
		Member: strconv.FormatInt(now.UnixMilli(), 10) + "-" + s.nonce(),
	}
	windowKey := s.windowKey(key)

	snap, err := s.window.Admit(ctx, windowKey, entry, now.Add(-cfg.Window), cfg.Window+windowTTLSlack)
	if err != nil {
		release()
		wait := cfg.MinDelay
		if wait <= 0 {
			wait = s.storeFallback
		}
		s.logger.Warn("admission store unavailable, applying conservative delay",
			zap.String("domain", key),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		s.record(ctx, key, false, domain.ReasonStoreError, now)
		return domain.Decision{RetryAfter: wait}
	}

	if snap.Count >= cfg.RequestsPerWindow {
		release()
		// A entrada de uma checagem recusada sai da janela em seguida. Se ficasse, cada
		// nova tentativa somaria uma entrada e um worker sozinho esperando nunca seria
		// admitido. O limite continua valendo: admitir e contar é uma transação só.
		if err := s.window.Remove(ctx, windowKey, entry.Member); err != nil {
			s.logger.Debug("remove rejected window entry failed", zap.String("domain", key), zap.Error(err))
		}
		wait := windowWait(snap.Oldest, cfg.Window, now)
		s.logger.Debug("window full",
			zap.String("domain", key),
			zap.Int("count", snap.Count),
			zap.Int("limit", cfg.RequestsPerWindow),
			zap.Duration("wait", wait),
		)
		s.record(ctx, key, false, domain.ReasonWindowFull, now)
		return domain.Decision{RetryAfter: wait}
	}

	s.record(ctx, key, true, domain.ReasonAdmitted, now)
	return domain.Decision{Allowed: true}
}

// Status lê a janela do domínio sem inserir entrada.
func (s *Service) Status(ctx context.Context, key string) (domain.WindowStatus, error) {
	key = normalizeKey(key)
	cfg := s.registry.Get(key)
	now := s.clock()

	st := domain.WindowStatus{
		Domain: key,
		Config: cfg,
		Limit:  cfg.RequestsPerWindow,
	}
	if s.window != nil {
		snap, err := s.window.Peek(ctx, s.windowKey(key), now.Add(-cfg.Window))
		if err != nil {
			return domain.WindowStatus{}, err
		}
		st.CurrentCount = snap.Count
		if snap.Count >= cfg.RequestsPerWindow {
			st.ResetMs = windowWait(snap.Oldest, cfg.Window, now).Milliseconds()
		}
	}

	st.Remaining = cfg.RequestsPerWindow - st.CurrentCount
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	st.CanRequest = st.Remaining > 0 && s.local.Remaining(key, now, cfg.MinDelay) == 0
	return st, nil
}

// Statuses devolve Status de todos os domínios configurados.
func (s *Service) Statuses(ctx context.Context) ([]domain.WindowStatus, error) {
	cfgs := s.registry.ListAll()
	out := make([]domain.WindowStatus, 0, len(cfgs))
	for _, cfg := range cfgs {
		st, err := s.Status(ctx, cfg.Domain)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ResetCounter apaga a janela compartilhada do domínio e o guard local deste processo.
func (s *Service) ResetCounter(ctx context.Context, key string) error {
	key = normalizeKey(key)
	s.local.Forget(key)
	if s.window == nil {
		return nil
	}
	return s.window.Clear(ctx, s.windowKey(key))
}

func (s *Service) windowKey(key string) string {
	return s.prefix + ":window:" + key
}

func (s *Service) record(ctx context.Context, key string, allowed bool, reason string, at time.Time) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Record(ctx, domain.StatsEvent{Key: key, Allowed: allowed, Reason: reason, At: at}); err != nil {
		s.logger.Debug("record admission stats failed", zap.String("domain", key), zap.Error(err))
	}
}

// windowWait é o tempo até a entrada mais antiga sair da janela, limitado a [1ms, window].
func windowWait(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	if oldest.IsZero() {
		return window
	}
	wait := oldest.Add(window).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if wait > window {
		wait = window
	}
	return wait
}
