package application

import (
	"sync"
	"time"
)

// LocalSpacing guarda, só para este processo, o horário da última requisição admitida
// por domínio. Garante MinDelay entre requisições do próprio processo e evita idas
// desnecessárias ao store; a garantia entre processos vem da janela compartilhada.
type LocalSpacing struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewLocalSpacing() *LocalSpacing {
	return &LocalSpacing{last: make(map[string]time.Time)}
}

// Remaining devolve quanto falta para cumprir minDelay desde a última admissão (0 se nada).
func (l *LocalSpacing) Remaining(key string, now time.Time, minDelay time.Duration) time.Duration {
	if minDelay <= 0 {
		return 0
	}

	l.mu.Lock()
	last, ok := l.last[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}

	if elapsed := now.Sub(last); elapsed < minDelay {
		return minDelay - elapsed
	}
	return 0
}

// Reserve confere o espaçamento e, se livre, já marca now sob o mesmo lock, de modo que
// duas goroutines do processo não passam juntas. Com wait > 0 nada foi marcado.
// release desfaz a marca (volta a anterior) quando a admissão acaba recusada; é no-op
// se outra admissão já marcou por cima.
func (l *LocalSpacing) Reserve(key string, now time.Time, minDelay time.Duration) (wait time.Duration, release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, had := l.last[key]
	if had && minDelay > 0 {
		if elapsed := now.Sub(prev); elapsed < minDelay {
			return minDelay - elapsed, func() {}
		}
	}
	l.last[key] = now

	return 0, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.last[key]; !ok || !cur.Equal(now) {
			return
		}
		if had {
			l.last[key] = prev
		} else {
			delete(l.last, key)
		}
	}
}

func (l *LocalSpacing) Forget(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}
