package application

import (
	"context"
	"math"
	"time"

	"scrape-throttle/throttle/domain"

	"go.uber.org/zap"
)

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultMaxAttempts = 3
	// DefaultMaxRetryAfter limita a dica Retry-After que o servidor remoto pode impor.
	DefaultMaxRetryAfter = time.Hour

	maxBackoffShift = 16
)

// Admitter é o que o Executor precisa da checagem de admissão.
type Admitter interface {
	Check(ctx context.Context, rawURL string) time.Duration
}

// Executor compõe a admissão num "espera e chama", e trata rejeições 429 da chamada
// com backoff exponencial, separado da espera proativa da janela.
type Executor struct {
	admission   Admitter
	backoffBase time.Duration
	maxHint     time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

type ExecutorOption func(*Executor)

func WithBackoffBase(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.backoffBase = d
		}
	}
}

// WithMaxRetryAfter limita a dica Retry-After aceita do servidor.
func WithMaxRetryAfter(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.maxHint = d
		}
	}
}

func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithSleep troca a função de espera (testes).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExecutor(admission Admitter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		admission:   admission,
		backoffBase: DefaultBackoffBase,
		maxHint:     DefaultMaxRetryAfter,
		maxAttempts: DefaultMaxAttempts,
		sleep:       SleepContext,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Await bloqueia até a admissão devolver 0. Depois de cada espera consulta de novo,
// porque outro worker pode ter ocupado a vaga nesse meio tempo.
// Só retorna erro se ctx encerrar.
func (e *Executor) Await(ctx context.Context, rawURL string) error {
	if e.admission == nil {
		return nil
	}
	for {
		wait := e.admission.Check(ctx, rawURL)
		if wait <= 0 {
			return nil
		}
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Do executa fn até maxAttempts vezes (<= 0 usa o padrão do Executor), sempre passando
// por Await antes. Só rejeições de rate limit são repetidas; qualquer outro erro volta na hora.
func (e *Executor) Do(ctx context.Context, rawURL string, maxAttempts int, fn func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}
	key := domain.KeyFromURL(rawURL)

	var (
		last error
		prev time.Duration
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.Await(ctx, rawURL); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsRateLimited(err) {
			return err
		}
		last = err

		if attempt == maxAttempts {
			break
		}

		backoff := e.Backoff(attempt, domain.RetryAfterOf(err), prev)
		prev = backoff
		e.logger.Warn("rate limited by remote, backing off",
			zap.String("domain", key),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	e.logger.Error("rate limit retries exhausted",
		zap.String("domain", key),
		zap.Int("attempts", maxAttempts),
		zap.Error(last),
	)
	return &domain.RetriesExhaustedError{Domain: key, Attempts: maxAttempts, Last: last}
}

// Backoff é o maior entre base * 2^attempt, a dica do Retry-After (limitada por maxHint)
// e o dobro da espera anterior, de modo que uma dica grande no começo não faz a próxima
// espera encolher.
func (e *Executor) Backoff(attempt int, hint, prev time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	d := e.backoffBase << uint(attempt)
	if hint > e.maxHint {
		hint = e.maxHint
	}
	if hint > d {
		d = hint
	}
	if prev > 0 {
		if prev > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		if 2*prev > d {
			d = 2 * prev
		}
	}
	return d
}

// Execute é Do para chamadas que devolvem um valor.
func Execute[T any](ctx context.Context, e *Executor, rawURL string, maxAttempts int, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, rawURL, maxAttempts, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// SleepContext dorme d ou até ctx encerrar.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
