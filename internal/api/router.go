// Package api serves the runtime's operational HTTP surface: Prometheus
// metrics and a health check. Handlers never touch frame-loop state; they
// read collectors and the published Live snapshot only.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the body of /healthz.
type Status struct {
	Frame         uint64 `json:"frame"`
	Instances     int    `json:"instances"`
	Timers        int    `json:"timers"`
	Subscriptions int    `json:"subscriptions"`
	Deferred      int    `json:"deferred"`
}

// RouterConfig carries the router's dependencies.
type RouterConfig struct {
	// Gatherer backs /metrics. Required.
	Gatherer prometheus.Gatherer
	// Status reports the latest frame snapshot. Optional.
	Status func() Status
	// Stale marks the runtime unhealthy when no frame advanced for this long.
	// Zero disables the check.
	Stale time.Duration
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", healthHandler(cfg))
	return r
}

func healthHandler(cfg RouterConfig) http.HandlerFunc {
	var (
		mu        sync.Mutex
		lastFrame uint64
		lastMove  = time.Now()
	)
	return func(w http.ResponseWriter, _ *http.Request) {
		var st Status
		if cfg.Status != nil {
			st = cfg.Status()
		}
		code := http.StatusOK
		if cfg.Stale > 0 {
			now := time.Now()
			mu.Lock()
			if st.Frame != lastFrame {
				lastFrame, lastMove = st.Frame, now
			} else if now.Sub(lastMove) > cfg.Stale {
				code = http.StatusServiceUnavailable
			}
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(st)
	}
}
