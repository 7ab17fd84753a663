// Package app wires the ssogate server runtime: config, logging, stores,
// the identity provider, the auth gate and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authapi "ssogate/cmd/internal/auth/api"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/cookies"
	"ssogate/cmd/internal/auth/gate"
	"ssogate/cmd/internal/auth/provider"
	"ssogate/cmd/internal/auth/refreshstore"
	"ssogate/cmd/internal/auth/session"
	"ssogate/cmd/internal/metrics"
	"ssogate/cmd/internal/realtime"
	"ssogate/cmd/security/tokencipher"
)

// ProviderFactory builds the identity provider. The returned release func
// frees background resources and may be nil.
type ProviderFactory func(ctx context.Context, cfg provider.Config) (provider.Provider, func(), error)

// App is the ssogate runtime: it owns the HTTP server and every resource
// that needs closing on shutdown.
type App struct {
	cfg Config
	log Logger

	handler http.Handler

	dbPool *pgxpool.Pool
	redis  *redis.Client
	sink   *auditlog.PostgresSink
	audit  *auditlog.Log

	releaseProvider func()
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	return build(ctx, cfg, log, discoverOIDC(cfg, log))
}

func discoverOIDC(cfg Config, log Logger) ProviderFactory {
	return func(ctx context.Context, pcfg provider.Config) (provider.Provider, func(), error) {
		var p *provider.OIDC
		err := retryStartup(ctx, cfg.StartupRetry, log, "idp", func(context.Context) error {
			var err error
			p, err = provider.NewOIDC(pcfg)
			if errors.Is(err, provider.ErrConfig) {
				return backoff.Permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Done, nil
	}
}

func build(ctx context.Context, cfg Config, log Logger, newProvider ProviderFactory) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cipher, cipherFallback, err := tokencipher.NewFromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, SecretStatus{
		EncryptionKeyFallback: cipherFallback,
		SessionSecretFallback: sessCfg.UsesFallbackSecret(),
	}, log); err != nil {
		return nil, err
	}

	apiCfg := authapi.LoadConfigFromEnv()
	if err := apiCfg.Validate(); err != nil {
		return nil, err
	}
	provCfg, err := provider.LoadConfigFromEnv(apiCfg.FrontendURL)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	m := metrics.New()

	auditOpts := []auditlog.Option{auditlog.WithLogger(log), auditlog.WithObserver(m)}
	if cfg.DatabaseURL != "" {
		a.dbPool, err = NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.sink, err = auditlog.NewPostgresSink(a.dbPool, log)
		if err != nil {
			return nil, err
		}
		auditOpts = append(auditOpts, auditlog.WithSink(a.sink))
		log.Info("db.enabled.audit_sink")
	} else {
		log.Info("db.disabled.audit_memory_only")
	}
	a.audit = auditlog.New(auditOpts...)
	log.Info("audit.log.ready", "capacity", a.audit.Capacity(), "durable", a.sink != nil)

	signer, err := session.NewSigner(sessCfg.Secret)
	if err != nil {
		return nil, err
	}

	var store session.Store
	switch sessCfg.Store {
	case session.StoreRedis:
		a.redis, err = NewRedisClient(ctx, sessCfg.RedisURL, cfg, log)
		if err != nil {
			return nil, err
		}
		store, err = session.NewRedisStore(a.redis,
			session.WithKeyPrefix(sessCfg.KeyPrefix),
			session.WithKeyDigest(signer.StorageKey),
		)
		if err != nil {
			return nil, err
		}
	default:
		store = session.NewMemoryStore()
	}
	log.Info("session.store", "kind", sessCfg.Store, "ttl", sessCfg.TTL)

	policy := cookies.DefaultPolicy(cfg.IsProduction())
	sessions, err := session.NewManager(store, signer, policy, sessCfg.TTL)
	if err != nil {
		return nil, err
	}

	prov, release, err := newProvider(ctx, provCfg)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	a.releaseProvider = release
	prov = provider.Instrument(prov, m)

	refresh := refreshstore.NewMemory()

	g, err := gate.New(gate.Deps{
		Cipher:     cipher,
		Refresh:    refresh,
		Provider:   prov,
		Sessions:   sessions,
		Audit:      a.audit,
		Logger:     log,
		Metrics:    m,
		Cookies:    policy,
		TrustProxy: apiCfg.TrustProxy,
	}, gate.WithProviderTimeout(apiCfg.ProviderTimeout))
	if err != nil {
		return nil, err
	}

	stream, err := realtime.NewLogStream(log, a.audit,
		realtime.LoadGatewayConfigFromEnv(cfg.CORSAllowedOrigins),
		realtime.WithObserver(m),
	)
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(authapi.Deps{
		Provider: prov,
		Cipher:   cipher,
		Refresh:  refresh,
		Sessions: sessions,
		Gate:     g,
		Audit:    a.audit,
		Logger:   log,
		Cookies:  policy,
	}, apiCfg, authapi.WithLogStream(stream))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		cfg:     cfg,
		dbPool:  a.dbPool,
		redis:   a.redis,
		auth:    auth,
		metrics: m.Handler(),
	})
	a.handler = buildHandler(mux, log, cfg, m)

	return a, nil
}

// Handler exposes the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"api", base+a.cfg.APIBase,
		"log_stream", wsBaseURL(base)+a.cfg.APIBase+"/auth/logs/stream",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close(shutdownCtx)
		return err
	}

	a.close(shutdownCtx)
	a.log.Info("server.stopped")
	return nil
}

// close releases resources in reverse dependency order. The sink flushes
// before the pool it writes to goes away.
func (a *App) close(ctx context.Context) {
	if a.releaseProvider != nil {
		a.releaseProvider()
		a.releaseProvider = nil
	}
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.log.Error("audit.sink.close.fail", "err", err)
		}
		a.sink = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
