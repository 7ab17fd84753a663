package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"ssogate/cmd/internal/auth/auditlog"
)

// NewDBPool builds a pgxpool, waits for the database with exponential
// backoff bounded by cfg.StartupRetry, and applies the audit schema
// migrations.
func NewDBPool(ctx context.Context, cfg Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: new pool: %w", err)
	}

	if err := retryStartup(ctx, cfg.StartupRetry, log, "db", func(ctx context.Context) error {
		return PingDB(ctx, pool, 3*time.Second)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	if err := auditlog.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// retryStartup retries op with exponential backoff until it succeeds,
// maxElapsed passes or ctx ends. A non-positive maxElapsed tries once.
func retryStartup(ctx context.Context, maxElapsed time.Duration, log *slog.Logger, what string, op func(context.Context) error) error {
	if maxElapsed <= 0 {
		return op(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn("startup.retry", "dependency", what, "attempt", attempt, "next_in", next, "err", err)
	})
}
