// Command fakemarket é um marketplace local para validar o worker de ponta a ponta:
// limita cada cliente com token-bucket e responde 429 com Retry-After quando estoura.
//
//	LISTEN_ADDR=:8082 RATE_RPS=0.2 RATE_BURST=2 go run ./cmd/fakemarket
//	SEARCH_BASE_URL=http://localhost:8082/sch scrapeworker worker
package main

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	addr := getenvDefault("LISTEN_ADDR", ":8082")
	rps := getenvFloatDefault("RATE_RPS", 0.2)
	burst := getenvIntDefault("RATE_BURST", 2)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	buckets := newBucketStore(rps, burst)
	buckets.startJanitor(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(buckets, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("fakemarket listening", zap.String("addr", addr), zap.Float64("rps", rps), zap.Int("burst", burst))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

func newRouter(buckets *bucketStore, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(limit(buckets, log))
	r.Get("/sch", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, "<h1>Resultados: "+r.URL.Query().Get("_nkw")+"</h1>")
	})
	r.Get("/itm/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, "<h1>Item "+chi.URLParam(r, "id")+"</h1>")
	})
	return r
}

func limit(buckets *bucketStore, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			ok, wait := buckets.reserve(client)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				log.Info("rejected", zap.String("client", client), zap.String("path", r.URL.Path), zap.Int("retry_after", secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	i, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	return f
}
