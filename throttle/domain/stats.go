package domain

import (
	"context"
	"time"
)

// Motivos de uma decisão de admissão.
const (
	ReasonAdmitted   = "admitted"
	ReasonLocalDelay = "local_delay"
	ReasonWindowFull = "window_full"
	ReasonStoreError = "store_error"
)

// StatsEvent representa um evento de decisão de admissão.
//
// Observação: Key é o domínio, não a URL, para manter a cardinalidade baixa
// numa base como Redis.
type StatsEvent struct {
	Key     string
	Allowed bool
	Reason  string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// Quem chama deve tratar erro como best-effort (não bloquear a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters agrega decisões por domínio.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// StatsReader é implementado pelos stores que conseguem devolver contadores por domínio.
type StatsReader interface {
	ByKey(ctx context.Context) (map[string]Counters, error)
}
