package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ssogate/cmd/identity"
	"ssogate/cmd/identity/ids"
	"ssogate/cmd/internal/auth/cookies"
)

// Manager ties the signed session cookie to a Store.
type Manager struct {
	store  Store
	signer *Signer
	policy cookies.Policy
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store Store, signer *Signer, policy cookies.Policy, ttl time.Duration) (*Manager, error) {
	if store == nil || signer == nil {
		return nil, errors.New("session: nil store or signer")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	return &Manager{
		store:  store,
		signer: signer,
		policy: policy,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// NewRecord mints a fresh version-1 record with a new id. It is not stored
// until passed to Replace.
func (m *Manager) NewRecord(user *identity.Principal, idToken, userID string) (Record, error) {
	now := m.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Record{}, fmt.Errorf("session: new id: %w", err)
	}
	return Record{
		ID:        id,
		Version:   1,
		User:      user.Clone(),
		IDToken:   idToken,
		UserID:    strings.TrimSpace(userID),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}, nil
}

// Load returns the session referenced by the request cookie. A missing,
// forged or expired cookie yields ErrNotFound.
func (m *Manager) Load(r *http.Request) (Record, error) {
	raw := cookies.Value(r, cookies.Session)
	if raw == "" {
		return Record{}, ErrNotFound
	}
	id, ok := m.signer.Verify(raw)
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.store.Load(r.Context(), id)
}

// Replace persists rec and, for a newly created session, sets the cookie.
func (m *Manager) Replace(ctx context.Context, w http.ResponseWriter, rec Record) error {
	rec.UpdatedAt = m.now().UTC()
	if err := m.store.Replace(ctx, rec); err != nil {
		return err
	}
	if rec.Version == 1 {
		maxAge := rec.ExpiresAt.Sub(rec.UpdatedAt)
		if maxAge <= 0 {
			maxAge = m.ttl
		}
		m.policy.Set(w, cookies.Session, m.signer.Sign(rec.ID), maxAge)
	}
	return nil
}

// Destroy deletes the stored session (if any) and always expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, id string) error {
	m.policy.Expire(w, cookies.Session)
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// Revoke deletes the stored session without touching cookies. Used when a
// new session replaces an old one in the same response.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// SetUserID writes the signed user id cookie.
func (m *Manager) SetUserID(w http.ResponseWriter, userID string) {
	m.policy.Set(w, cookies.UserID, m.signer.SignUserID(strings.TrimSpace(userID)), cookies.UserIDMaxAge)
}

// UserID returns the user id from the request cookie. A missing cookie
// yields ErrNotFound and a tampered or unsigned one ErrForgedUserID.
func (m *Manager) UserID(r *http.Request) (string, error) {
	raw := cookies.Value(r, cookies.UserID)
	if raw == "" {
		return "", ErrNotFound
	}
	id, ok := m.signer.VerifyUserID(raw)
	if !ok {
		return "", ErrForgedUserID
	}
	return id, nil
}
