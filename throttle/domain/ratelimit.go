package domain

// Camada de domínio do throttle.
//
// Regras e contratos (interfaces/tipos) sem dependência de Redis ou net/http.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RateLimitConfig é a política de um domínio. É um valor imutável: atualizações
// substituem o valor inteiro, nunca alteram campos de uma instância já entregue.
type RateLimitConfig struct {
	Domain            string
	RequestsPerWindow int
	Window            time.Duration
	// MinDelay é o espaçamento mínimo entre requisições deste processo.
	MinDelay time.Duration
}

// configJSON é o formato persistido no snapshot e exposto pela API admin.
type configJSON struct {
	Domain            string `json:"domain"`
	RequestsPerWindow int    `json:"requestsPerWindow"`
	WindowMs          int64  `json:"windowMs"`
	MinDelayMs        int64  `json:"minDelayMs"`
}

func (c RateLimitConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		Domain:            c.Domain,
		RequestsPerWindow: c.RequestsPerWindow,
		WindowMs:          c.Window.Milliseconds(),
		MinDelayMs:        c.MinDelay.Milliseconds(),
	})
}

func (c *RateLimitConfig) UnmarshalJSON(b []byte) error {
	var w configJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*c = RateLimitConfig{
		Domain:            w.Domain,
		RequestsPerWindow: w.RequestsPerWindow,
		Window:            time.Duration(w.WindowMs) * time.Millisecond,
		MinDelay:          time.Duration(w.MinDelayMs) * time.Millisecond,
	}
	return nil
}

// Validate verifica os limites básicos. MinDelay > Window não é rejeitado.
func (c RateLimitConfig) Validate() error {
	if c.Domain == "" {
		return errors.New("domain is required")
	}
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("requestsPerWindow must be > 0 (domain %s)", c.Domain)
	}
	if c.Window <= 0 {
		return fmt.Errorf("windowMs must be > 0 (domain %s)", c.Domain)
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("minDelayMs must be >= 0 (domain %s)", c.Domain)
	}
	return nil
}

// ConfigPatch é uma atualização parcial; campos nil mantêm o valor da base.
type ConfigPatch struct {
	RequestsPerWindow *int   `json:"requestsPerWindow,omitempty"`
	WindowMs          *int64 `json:"windowMs,omitempty"`
	MinDelayMs        *int64 `json:"minDelayMs,omitempty"`
}

// Apply devolve uma cópia de base com os campos do patch aplicados.
func (p ConfigPatch) Apply(base RateLimitConfig) RateLimitConfig {
	out := base
	if p.RequestsPerWindow != nil {
		out.RequestsPerWindow = *p.RequestsPerWindow
	}
	if p.WindowMs != nil {
		out.Window = time.Duration(*p.WindowMs) * time.Millisecond
	}
	if p.MinDelayMs != nil {
		out.MinDelay = time.Duration(*p.MinDelayMs) * time.Millisecond
	}
	return out
}

type Decision struct {
	Allowed bool
	// RetryAfter é quanto o chamador deve esperar antes de consultar de novo.
	// Se Allowed, é sempre 0.
	RetryAfter time.Duration
}

// WindowEntry é uma requisição admitida na janela compartilhada.
// Member precisa ser único (timestamp + nonce) para não sobrescrever entradas de outros processos.
type WindowEntry struct {
	At     time.Time
	Member string
}

// WindowSnapshot é o estado da janela observado antes da inserção.
type WindowSnapshot struct {
	Count int
	// Oldest é o timestamp da entrada mais antiga ainda válida (zero se vazia).
	Oldest time.Time
}

// WindowStore é a janela deslizante compartilhada entre processos (ex: sorted set no Redis).
//
// Admit executa numa única sequência atômica: remove entradas com timestamp <= windowStart,
// conta as restantes, lê a mais antiga, insere entry e renova a expiração da chave.
type WindowStore interface {
	Admit(ctx context.Context, key string, entry WindowEntry, windowStart time.Time, ttl time.Duration) (WindowSnapshot, error)
	Remove(ctx context.Context, key, member string) error
	// Peek conta as entradas posteriores a windowStart sem inserir nada.
	Peek(ctx context.Context, key string, windowStart time.Time) (WindowSnapshot, error)
	Clear(ctx context.Context, key string) error
}

// ErrNotFound indica chave ausente no KVStore.
var ErrNotFound = errors.New("not found")

// KVStore é o get/set simples usado para snapshots de configuração e caches com TTL.
// ttl <= 0 significa sem expiração.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// WindowStatus é a visão de leitura de um domínio (painel admin).
type WindowStatus struct {
	Domain       string          `json:"domain"`
	Config       RateLimitConfig `json:"config"`
	CurrentCount int             `json:"currentCount"`
	Limit        int             `json:"limit"`
	Remaining    int             `json:"remaining"`
	CanRequest   bool            `json:"canRequest"`
	ResetMs      int64           `json:"resetMs"`
}
