// Package providertest provides a scriptable provider.Provider for tests.
package providertest

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"ssogate/cmd/internal/auth/provider"
)

var ErrNotScripted = errors.New("providertest: call not scripted")

// Stub is a provider.Provider whose behavior is set per call with function
// fields. Unset fields return ErrNotScripted. Calls are counted.
type Stub struct {
	AuthorizationURLFunc func(state string, scopes []string) (string, error)
	ExchangeCodeFunc     func(ctx context.Context, code string) (provider.ExchangeResult, error)
	ValidateFunc         func(ctx context.Context, accessToken string) (provider.Validation, error)
	RefreshFunc          func(ctx context.Context, refreshToken string) (provider.RefreshResult, error)
	LogoutURLFunc        func(p provider.LogoutParams) (string, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ provider.Provider = (*Stub)(nil)

func (s *Stub) count(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
}

// Calls reports how many times op ("authorize", "exchange", "validate",
// "refresh", "logout") was invoked.
func (s *Stub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Stub) AuthorizationURL(state string, scopes []string) (string, error) {
	s.count("authorize")
	if s.AuthorizationURLFunc == nil {
		q := url.Values{}
		q.Set("state", state)
		return "https://idp.example.test/authorize?" + q.Encode(), nil
	}
	return s.AuthorizationURLFunc(state, scopes)
}

func (s *Stub) ExchangeCode(ctx context.Context, code string) (provider.ExchangeResult, error) {
	s.count("exchange")
	if s.ExchangeCodeFunc == nil {
		return provider.ExchangeResult{}, ErrNotScripted
	}
	return s.ExchangeCodeFunc(ctx, code)
}

func (s *Stub) ValidateAccessToken(ctx context.Context, accessToken string) (provider.Validation, error) {
	s.count("validate")
	if s.ValidateFunc == nil {
		return provider.Validation{}, ErrNotScripted
	}
	return s.ValidateFunc(ctx, accessToken)
}

func (s *Stub) RefreshAccessToken(ctx context.Context, refreshToken string) (provider.RefreshResult, error) {
	s.count("refresh")
	if s.RefreshFunc == nil {
		return provider.RefreshResult{}, ErrNotScripted
	}
	return s.RefreshFunc(ctx, refreshToken)
}

func (s *Stub) LogoutURL(p provider.LogoutParams) (string, error) {
	s.count("logout")
	if s.LogoutURLFunc == nil {
		q := url.Values{}
		if p.IDTokenHint != "" {
			q.Set("id_token_hint", p.IDTokenHint)
		}
		if p.PostLogoutRedirectURI != "" {
			q.Set("post_logout_redirect_uri", p.PostLogoutRedirectURI)
		}
		return "https://idp.example.test/oidc/logout?" + q.Encode(), nil
	}
	return s.LogoutURLFunc(p)
}
