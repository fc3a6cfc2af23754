package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authapi "tearoom/cmd/internal/auth/api"
	"tearoom/cmd/internal/orders"
	"tearoom/cmd/internal/realtime"
)

func (a *App) routes(auth *authapi.Handler, ord *orders.Handler, ws *realtime.WSGateway) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, a.log) })
	r.Use(middleware.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(WithSecurityHeaders)
	if c := newCORS(a.cfg); c != nil {
		r.Use(c)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	auth.Routes(r)
	ord.Routes(r)
	r.Method(http.MethodGet, "/ws", ws)

	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(r.Context()).Err(); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
