package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authapi "ssogate/cmd/internal/auth/api"
)

// routes is everything registerHTTP mounts. Nil members are skipped.
type routes struct {
	log     Logger
	cfg     Config
	dbPool  *pgxpool.Pool
	redis   redis.UniversalClient
	auth    *authapi.Handler
	metrics http.Handler
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.dbPool != nil {
			if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}
		if rt.redis != nil {
			if err := PingRedis(r.Context(), rt.redis, 2*time.Second); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.redis.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics)
	}

	if rt.auth != nil {
		rt.auth.Register(mux, rt.cfg.APIBase)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Route not found"})
	})
}

// buildHandler applies the middleware chain around mux.
func buildHandler(mux http.Handler, log Logger, cfg Config, obs HTTPObserver) http.Handler {
	return WithSecurityHeaders(WithCORS(WithRequestLogging(mux, log, obs), cfg, log))
}
