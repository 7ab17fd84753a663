package refreshstore

import (
	"context"
	"strings"
	"sync"
)

// Memory is a process-local Store. It is safe for concurrent use.
//
// Entries survive only as long as the process; a restart forces every user
// through a full login.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, userID string) (string, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[userID]
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// Set stores token for userID. Empty ids are ignored; an empty token removes
// the entry.
func (m *Memory) Set(_ context.Context, userID, token string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		delete(m.tokens, userID)
		return
	}
	m.tokens[userID] = token
}

func (m *Memory) Delete(_ context.Context, userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	m.mu.Lock()
	delete(m.tokens, userID)
	m.mu.Unlock()
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
