package session

import (
	"strings"
	"time"

	"ssogate/cmd/identity"
)

// Record is the server-side session state.
type Record struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`

	// User is the last known principal snapshot.
	User *identity.Principal `json:"user,omitempty"`

	// IDToken is the provider id token, used only to build the logout URL.
	IDToken string `json:"idToken,omitempty"`

	// UserID keys the refresh token store.
	UserID string `json:"userId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.User = r.User.Clone()
	return r
}

// Next returns a deep copy with the version advanced, ready to be passed to Replace.
func (r Record) Next() Record {
	n := r.Clone()
	n.Version++
	return n
}

func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r Record) valid() bool {
	return strings.TrimSpace(r.ID) != "" && r.Version > 0
}
