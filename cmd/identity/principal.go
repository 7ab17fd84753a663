package identity

// Principal is the authenticated user's attribute snapshot.
type Principal struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"emailVerified,omitempty"`
	Organization  string `json:"organization,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
}

// StableID derives the key used for refresh-token lookups and audit trails:
// the provider id, falling back to the normalized email.
//
// There is deliberately no time-based fallback; a synthetic id would differ on
// every login and fragment the user's stored tokens.
func (p Principal) StableID() (string, error) {
	if id := NormalizeID(p.ID); id != "" {
		return id, nil
	}
	if email := NormalizeEmail(p.Email); email != "" {
		return email, nil
	}
	return "", ErrNoStableID
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	if p.EmailVerified != nil {
		v := *p.EmailVerified
		cp.EmailVerified = &v
	}
	return &cp
}
