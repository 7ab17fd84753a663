package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ssogate/cmd/identity"
)

// DefaultScopes are requested when the caller passes none.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// Provider is the identity-provider capability.
type Provider interface {
	AuthorizationURL(state string, scopes []string) (string, error)
	ExchangeCode(ctx context.Context, code string) (ExchangeResult, error)
	ValidateAccessToken(ctx context.Context, accessToken string) (Validation, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshResult, error)
	LogoutURL(p LogoutParams) (string, error)
}

// ExchangeResult is the outcome of an authorization-code exchange.
// User and AccessToken are required; the rest are optional.
type ExchangeResult struct {
	User         *identity.Principal
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

func (r ExchangeResult) Validate() error {
	if r.User == nil {
		return fmt.Errorf("%w: exchange: missing user", ErrIncompleteResult)
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return fmt.Errorf("%w: exchange: missing access token", ErrIncompleteResult)
	}
	return nil
}

// Validation is the outcome of validating an access token. User is optional
// even when Valid is true.
type Validation struct {
	Valid bool
	User  *identity.Principal
}

func (v Validation) Validate() error {
	if !v.Valid && v.User != nil {
		return fmt.Errorf("%w: validation: user on invalid token", ErrIncompleteResult)
	}
	return nil
}

// RefreshResult is the outcome of a refresh grant. AccessToken is required.
// RefreshToken is set only when the provider rotated it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	User         *identity.Principal
	ExpiresAt    time.Time
}

func (r RefreshResult) Validate() error {
	if strings.TrimSpace(r.AccessToken) == "" {
		return fmt.Errorf("%w: refresh: missing access token", ErrIncompleteResult)
	}
	return nil
}

// LogoutParams carries what the provider needs to end its own session.
type LogoutParams struct {
	IDTokenHint           string
	PostLogoutRedirectURI string
	State                 string
}
