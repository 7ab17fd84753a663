package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ssogate/cmd/identity/ids"
)

const DefaultCapacity = 100

// Sink receives every appended entry. Implementations must not block for long;
// errors are logged and otherwise ignored.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Observer is told the level of every appended entry.
type Observer interface {
	AuditEntry(level string)
}

type Option func(*Log)

// WithCapacity overrides the ring size. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithClock injects the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

func WithObserver(o Observer) Option {
	return func(l *Log) { l.obs = o }
}

// WithLogger sets the slog logger entries are mirrored to.
func WithLogger(log *slog.Logger) Option {
	return func(l *Log) {
		if log != nil {
			l.log = log
		}
	}
}

// Log is a process-scoped, bounded, newest-first audit log.
// It is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	buf      []Entry
	head     int // next write position
	size     int
	capacity int

	subs    map[uint64]chan Entry
	nextSub uint64

	now  func() time.Time
	sink Sink
	obs  Observer
	log  *slog.Logger
}

func New(opts ...Option) *Log {
	l := &Log{
		capacity: DefaultCapacity,
		now:      time.Now,
		log:      slog.Default(),
		subs:     make(map[uint64]chan Entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.buf = make([]Entry, l.capacity)
	return l
}

func (l *Log) Capacity() int { return l.capacity }

// Append stamps e with an id and the current time, stores it at the front
// and returns the stored entry. The oldest entry is dropped once capacity is
// exceeded.
func (l *Log) Append(ctx context.Context, e Entry) Entry {
	if l == nil {
		return e
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	now := l.now().UTC()
	e.Timestamp = now
	if id, err := ids.NewULID(now); err == nil {
		e.ID = id
	}

	l.mu.Lock()
	l.buf[l.head] = e
	l.head = (l.head + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; it sees a gap rather than stalling writers.
		}
	}
	l.mu.Unlock()

	if l.obs != nil {
		l.obs.AuditEntry(string(e.Level))
	}
	l.mirror(ctx, e)
	l.forward(ctx, e)
	return e
}

func (l *Log) Info(ctx context.Context, msg string, c Context) Entry {
	return l.Append(ctx, Entry{Level: LevelInfo, Message: msg, Context: c})
}

func (l *Log) Warn(ctx context.Context, msg string, c Context) Entry {
	return l.Append(ctx, Entry{Level: LevelWarn, Message: msg, Context: c})
}

func (l *Log) Error(ctx context.Context, msg string, c Context) Entry {
	return l.Append(ctx, Entry{Level: LevelError, Message: msg, Context: c})
}

// List returns a snapshot of the stored entries, newest first.
func (l *Log) List() []Entry {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.head - i + l.capacity) % l.capacity
		out = append(out, l.buf[idx])
	}
	return out
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Clear drops every stored entry. Subscribers stay attached.
func (l *Log) Clear() {
	if l == nil {
		return
	}

	l.mu.Lock()
	clear(l.buf)
	l.head = 0
	l.size = 0
	l.mu.Unlock()
}

// Subscribe registers a listener for entries appended from now on. Delivery
// is best-effort: when the channel buffer is full, entries are dropped for
// that subscriber. cancel unregisters and closes the channel; it is safe to
// call more than once. A nil Log yields an already closed channel.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if l == nil {
		ch := make(chan Entry)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			close(ch)
			l.mu.Unlock()
		})
	}
	return ch, cancel
}

func (l *Log) mirror(ctx context.Context, e Entry) {
	defer func() { _ = recover() }()
	attrs := append([]any{"audit_id", e.ID, "message", e.Message}, e.Context.attrs()...)
	l.log.Log(ctx, e.Level.slogLevel(), "audit.entry", attrs...)
}

func (l *Log) forward(ctx context.Context, e Entry) {
	if l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("audit.sink.panic", "panic", r, "audit_id", e.ID)
		}
	}()
	if err := l.sink.Write(ctx, e); err != nil {
		l.log.Warn("audit.sink.write.fail", "err", err, "audit_id", e.ID)
	}
}
