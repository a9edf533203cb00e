package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"scrape-throttle/throttle/domain"
)

// MemoryWindowStore é uma janela deslizante em memória, com a mesma semântica do Redis.
// Útil para testes e para um único processo; não coordena processos diferentes.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	entries   []domain.WindowEntry
	expiresAt time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*memoryWindow)}
}

func (s *MemoryWindowStore) Admit(_ context.Context, key string, entry domain.WindowEntry, windowStart time.Time, ttl time.Duration) (domain.WindowSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.window(key, entry.At)
	w.prune(windowStart)
	snap := w.snapshot()

	w.entries = append(w.entries, entry)
	sort.SliceStable(w.entries, func(i, j int) bool { return w.entries[i].At.Before(w.entries[j].At) })
	if ttl > 0 {
		w.expiresAt = entry.At.Add(ttl)
	}
	return snap, nil
}

func (s *MemoryWindowStore) Remove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	for i, e := range w.entries {
		if e.Member == member {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryWindowStore) Peek(_ context.Context, key string, windowStart time.Time) (domain.WindowSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return domain.WindowSnapshot{}, nil
	}
	snap := domain.WindowSnapshot{}
	for _, e := range w.entries {
		if !e.At.After(windowStart) {
			continue
		}
		if snap.Count == 0 {
			snap.Oldest = e.At
		}
		snap.Count++
	}
	return snap, nil
}

func (s *MemoryWindowStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// window devolve a janela da chave, descartando-a se já expirou em `now`.
func (s *MemoryWindowStore) window(key string, now time.Time) *memoryWindow {
	w, ok := s.windows[key]
	if ok && !w.expiresAt.IsZero() && now.After(w.expiresAt) {
		ok = false
	}
	if !ok {
		w = &memoryWindow{}
		s.windows[key] = w
	}
	return w
}

func (w *memoryWindow) prune(windowStart time.Time) {
	i := 0
	for i < len(w.entries) && !w.entries[i].At.After(windowStart) {
		i++
	}
	w.entries = w.entries[i:]
}

func (w *memoryWindow) snapshot() domain.WindowSnapshot {
	snap := domain.WindowSnapshot{Count: len(w.entries)}
	if len(w.entries) > 0 {
		snap.Oldest = w.entries[0].At
	}
	return snap
}
