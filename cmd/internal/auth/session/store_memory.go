package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memorySweepEvery = 64

// MemoryStore is a process-local Store. Expired records are dropped lazily on
// access and by a periodic sweep during writes.
type MemoryStore struct {
	mu     sync.Mutex
	recs   map[string]Record
	now    func() time.Time
	writes int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]Record),
		now:  time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Expired(s.now()) {
		delete(s.recs, id)
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Replace(_ context.Context, rec Record) error {
	if !rec.valid() {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec.Expired(now) {
		return fmt.Errorf("%w: %s", ErrExpired, rec.ID)
	}

	var stored int64
	if cur, ok := s.recs[rec.ID]; ok && !cur.Expired(now) {
		stored = cur.Version
	}
	if rec.Version != stored+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, stored, rec.Version)
	}

	s.recs[rec.ID] = rec.Clone()

	s.writes++
	if s.writes%memorySweepEvery == 0 {
		s.sweepLocked(now)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored records, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, rec := range s.recs {
		if rec.Expired(now) {
			delete(s.recs, id)
		}
	}
}
