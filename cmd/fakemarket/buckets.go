package main

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketStore guarda um token-bucket por cliente e descarta os inativos.
type bucketStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newBucketStore(rps float64, burst int) *bucketStore {
	return &bucketStore{
		entries:      make(map[string]*bucketEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		clock:        time.Now,
	}
}

// reserve consome um token do cliente. Sem token, devolve quanto falta para o próximo.
func (s *bucketStore) reserve(client string) (bool, time.Duration) {
	now := s.clock()

	s.mu.Lock()
	ent, ok := s.entries[client]
	if !ok {
		ent = &bucketEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[client] = ent
	}
	ent.lastSeen = now
	s.mu.Unlock()

	if ent.lim.AllowN(now, 1) {
		return true, 0
	}
	r := ent.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (s *bucketStore) cleanup() {
	cutoff := s.clock().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *bucketStore) startJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.cleanup()
			}
		}
	}()
}
