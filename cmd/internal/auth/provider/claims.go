package provider

import (
	"strings"

	"ssogate/cmd/identity"
)

// userClaims are the standard OIDC claims plus the organization id some
// providers add.
type userClaims struct {
	Subject       string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Picture       string `json:"picture"`
	OrgID         string `json:"org_id"`
	Organization  string `json:"organization"`
}

// principal returns nil when the claims identify nobody.
func (c userClaims) principal() *identity.Principal {
	id := identity.NormalizeID(c.Subject)
	email := identity.NormalizeEmail(c.Email)
	if id == "" && email == "" {
		return nil
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName))
	}

	org := strings.TrimSpace(c.OrgID)
	if org == "" {
		org = strings.TrimSpace(c.Organization)
	}

	p := &identity.Principal{
		ID:           id,
		Name:         name,
		Email:        email,
		Organization: org,
		Avatar:       strings.TrimSpace(c.Picture),
	}
	if c.EmailVerified != nil {
		v := *c.EmailVerified
		p.EmailVerified = &v
	}
	return p
}
