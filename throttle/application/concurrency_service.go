package application

import (
	"context"
	"time"

	"scrape-throttle/throttle/domain"
)

// ConcurrencyService limita quantos jobs de cada tipo rodam ao mesmo tempo no processo.
//
// Tipos sem pool próprio usam Default; sem Default não há limite para eles.
type ConcurrencyService struct {
	PerType        map[string]domain.SlotPool
	Default        domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga para um job do tipo jobType.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context, jobType string) (func(), bool) {
	pool := s.Default
	if p, ok := s.PerType[jobType]; ok && p != nil {
		pool = p
	}
	if pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return pool.Acquire(acqCtx)
}
