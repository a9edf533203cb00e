package domain

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError sinaliza que o site externo rejeitou a requisição por excesso (HTTP 429).
type RateLimitedError struct {
	URL        string
	StatusCode int
	// RetryAfter vem do header Retry-After, se houver.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (status %d, retry after %s)", e.URL, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s (status %d)", e.URL, e.StatusCode)
}

func (e *RateLimitedError) RateLimited() bool { return true }

// rateLimitSignal permite que erros de outros pacotes se declarem como rejeição por rate limit.
type rateLimitSignal interface {
	RateLimited() bool
}

type retryAfterHint interface {
	RetryAfterHint() time.Duration
}

func (e *RateLimitedError) RetryAfterHint() time.Duration { return e.RetryAfter }

// IsRateLimited reporta se algum erro da cadeia é um sinal de rate limit.
func IsRateLimited(err error) bool {
	var sig rateLimitSignal
	return errors.As(err, &sig) && sig.RateLimited()
}

// RetryAfterOf devolve a dica de espera carregada pelo erro (0 se não houver).
func RetryAfterOf(err error) time.Duration {
	var hint retryAfterHint
	if errors.As(err, &hint) {
		return hint.RetryAfterHint()
	}
	return 0
}

// RetriesExhaustedError é o erro terminal do wrapper após esgotar as tentativas.
type RetriesExhaustedError struct {
	Domain   string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("rate limit retries exhausted for domain %s after %d attempts: %v", e.Domain, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
