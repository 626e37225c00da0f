package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// Battle serves player sockets on /battle_ws.
	Battle http.Handler
	// Linker, when set, serves instance connections on /linker.
	Linker http.Handler
	// Health is checked by /healthz.
	Health Pinger
}

type router struct {
	health Pinger
}

func NewRouter(opts Options) http.Handler {
	r := &router{health: opts.Health}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	mux.Get("/healthz", r.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Get("/battle_ws", opts.Battle.ServeHTTP)
	if opts.Linker != nil {
		mux.Get("/linker", opts.Linker.ServeHTTP)
	}
	return mux
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.health.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
