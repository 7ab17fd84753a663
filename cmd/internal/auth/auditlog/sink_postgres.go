package auditlog

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSinkFull   = errors.New("auditlog: sink queue full")
	ErrSinkClosed = errors.New("auditlog: sink closed")
)

const (
	defaultSinkQueue   = 256
	defaultSinkTimeout = 3 * time.Second
)

// PostgresSink persists entries to sso.audit_log.
//
// Ownership model:
// - PostgresSink does NOT own the pgx pool. The caller must close the pool
//   after Close returns.
//
// Write only enqueues; a single worker performs the inserts. When the queue
// is full the entry is dropped and ErrSinkFull is returned.
type PostgresSink struct {
	pool    *pgxpool.Pool
	log     *slog.Logger
	timeout time.Duration

	queue     chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink starts the insert worker. Call Close to stop it.
func NewPostgresSink(pool *pgxpool.Pool, log *slog.Logger) (*PostgresSink, error) {
	if pool == nil {
		return nil, errors.New("auditlog: nil pool")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &PostgresSink{
		pool:    pool,
		log:     log,
		timeout: defaultSinkTimeout,
		queue:   make(chan Entry, defaultSinkQueue),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *PostgresSink) Write(_ context.Context, e Entry) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	select {
	case s.queue <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close stops accepting entries, flushes what is queued and waits for the
// worker to exit or ctx to end.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PostgresSink) run() {
	defer s.wg.Done()

	for {
		select {
		case e := <-s.queue:
			s.insert(e)
		case <-s.done:
			for {
				select {
				case e := <-s.queue:
					s.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (s *PostgresSink) insert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sso.audit_log (
			id, level, message, user_id, email, error, ip, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Level), e.Message,
		trimOrNil(e.Context.UserID), trimOrNil(e.Context.Email), trimOrNil(e.Context.Error),
		ipOrNil(e.Context.IP), e.Timestamp)
	if err != nil {
		s.log.Error("audit.sink.insert.fail", "err", err, "audit_id", e.ID)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func ipOrNil(s string) any {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	return ip.String()
}
