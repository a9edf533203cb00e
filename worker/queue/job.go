package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Job é o envelope persistido no Redis.
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	// Attempt é quantas execuções já terminaram em erro.
	Attempt    int    `json:"attempt"`
	Attempts   int    `json:"attempts"`
	BackoffMs  int64  `json:"backoffMs"`
	EnqueuedAt int64  `json:"enqueuedAt"`
	FailedAt   int64  `json:"failedAt,omitempty"`
	LastError  string `json:"lastError,omitempty"`

	// raw é o membro exato no set de jobs em andamento, usado para tirá-lo de lá.
	raw string
}

// Decode lê o payload do job em v.
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// JobOptions controla quando e quantas vezes um job roda.
type JobOptions struct {
	Delay    time.Duration
	Attempts int
	// Backoff é o atraso base entre tentativas; a tentativa n espera Backoff*2^(n-1).
	Backoff time.Duration
}

const (
	defaultAttempts = 1
)

func (o JobOptions) normalized() JobOptions {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marca err para a fila não tentar de novo.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}

// retryDelay é o atraso antes da próxima execução depois da falha número attempt (1-based).
func retryDelay(backoff time.Duration, attempt int) time.Duration {
	if backoff <= 0 || attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	return backoff << uint(shift)
}
