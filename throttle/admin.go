package throttle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"scrape-throttle/throttle/application"
	"scrape-throttle/throttle/domain"
)

// AdminOptions configura a API administrativa de rate limit.
type AdminOptions struct {
	Service *application.Service
	// Stats é opcional; sem ele GET /rate-limits/stats responde 404.
	Stats  domain.StatsReader
	Logger *zap.Logger
	// AddRateLimitHeaders adiciona X-RateLimit-* em GET /rate-limits/{domain}.
	AddRateLimitHeaders bool
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type admin struct {
	opts   AdminOptions
	logger *zap.Logger
}

// AdminRouter expõe leitura/edição das políticas e reset de contadores.
//
//	GET    /rate-limits
//	GET    /rate-limits/status
//	GET    /rate-limits/stats
//	GET    /rate-limits/{domain}
//	PUT    /rate-limits/{domain}
//	DELETE /rate-limits/{domain}
//	POST   /rate-limits/reset/{domain}
func AdminRouter(opts AdminOptions) http.Handler {
	a := &admin{opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/rate-limits", func(r chi.Router) {
		r.Get("/", a.list)
		r.Get("/status", a.statuses)
		r.Get("/stats", a.stats)
		r.Post("/reset/{domain}", a.resetCounter)
		r.Get("/{domain}", a.status)
		r.Put("/{domain}", a.update)
		r.Delete("/{domain}", a.resetConfig)
	})
	return r
}

func (a *admin) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: a.opts.Service.Registry().ListAll()})
}

func (a *admin) statuses(w http.ResponseWriter, r *http.Request) {
	sts, err := a.opts.Service.Statuses(r.Context())
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "read window status", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: sts})
}

func (a *admin) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.opts.Service.Status(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "read window status", err)
		return
	}
	if a.opts.AddRateLimitHeaders {
		w.Header().Set("X-RateLimit-Limit", formatInt(st.Limit))
		w.Header().Set("X-RateLimit-Remaining", formatInt(st.Remaining))
		w.Header().Set("X-RateLimit-Reset", formatSeconds(st.ResetMs))
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: st})
}

func (a *admin) stats(w http.ResponseWriter, r *http.Request) {
	if a.opts.Stats == nil {
		writeJSON(w, http.StatusNotFound, envelope{Error: "stats disabled"})
		return
	}
	byKey, err := a.opts.Stats.ByKey(r.Context())
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "read stats", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: byKey})
}

func (a *admin) update(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConfigPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid body: " + err.Error()})
		return
	}

	reg := a.opts.Service.Registry()
	cfg, err := reg.Set(chi.URLParam(r, "domain"), patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	reg.SaveToStore(r.Context())

	a.logger.Info("rate limit updated",
		zap.String("domain", cfg.Domain),
		zap.Int("requests_per_window", cfg.RequestsPerWindow),
		zap.Duration("window", cfg.Window),
		zap.Duration("min_delay", cfg.MinDelay),
	)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: cfg})
}

func (a *admin) resetConfig(w http.ResponseWriter, r *http.Request) {
	reg := a.opts.Service.Registry()
	cfg := reg.Reset(chi.URLParam(r, "domain"))
	reg.SaveToStore(r.Context())

	a.logger.Info("rate limit reset to default", zap.String("domain", cfg.Domain))
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: cfg})
}

func (a *admin) resetCounter(w http.ResponseWriter, r *http.Request) {
	key := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if err := a.opts.Service.ResetCounter(r.Context(), key); err != nil {
		a.fail(w, http.StatusServiceUnavailable, "reset counter", err)
		return
	}
	a.logger.Info("rate limit counter reset", zap.String("domain", key))
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (a *admin) fail(w http.ResponseWriter, status int, msg string, err error) {
	a.logger.Warn(msg+" failed", zap.Error(err))
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, envelope{Error: msg + ": " + err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
