package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDC implements Provider against an OpenID Connect issuer.
//
// Access tokens are verified locally as JWTs against the issuer's JWKS.
// The client-id check is skipped for them because access-token audiences
// name the API, not the client. ID tokens are verified with the client id.
type OIDC struct {
	cfg      Config
	client   *http.Client
	provider *oidc.Provider
	oauth    oauth2.Config

	accessVerifier *oidc.IDTokenVerifier
	idVerifier     *oidc.IDTokenVerifier
	endSessionURL  string

	mu sync.Mutex

	// backgroundCtx carries the HTTP client for background activity such as
	// JWKS refreshes.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

var _ Provider = (*OIDC)(nil)

// NewOIDC validates cfg and performs discovery against the issuer.
//
// Done must be called to release background resources.
func NewOIDC(cfg Config) (*OIDC, error) {
	const op = "provider.NewOIDC"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &OIDC{
		cfg:                 cfg,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := newHTTPClient(cfg.CACertPEM, cfg.Timeout)
	if err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.client = client

	provider, err := oidc.NewProvider(oidc.ClientContext(p.backgroundCtx, client), cfg.EnvironmentURL)
	if err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: discovery: %w", op, err)
	}
	p.provider = provider

	var disc struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&disc); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: discovery claims: %w", op, err)
	}
	p.endSessionURL = strings.TrimSpace(disc.EndSessionEndpoint)
	if p.endSessionURL == "" {
		p.endSessionURL = strings.TrimRight(cfg.EnvironmentURL, "/") + "/oidc/logout"
	}

	p.oauth = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       DefaultScopes,
	}
	p.accessVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	p.idVerifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return p, nil
}

// Done releases the provider's background resources.
func (p *OIDC) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

func (p *OIDC) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.client)
}

func (p *OIDC) AuthorizationURL(state string, scopes []string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("%w: empty state", ErrInvalidParameter)
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	cfg := p.oauth
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state), nil
}

func (p *OIDC) ExchangeCode(ctx context.Context, code string) (ExchangeResult, error) {
	const op = "provider.ExchangeCode"
	if strings.TrimSpace(code) == "" {
		return ExchangeResult{}, fmt.Errorf("%s: %w: empty code", op, ErrInvalidParameter)
	}

	ctx = p.clientContext(ctx)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("%s: %w", op, err)
	}

	res := ExchangeResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if raw, _ := tok.Extra("id_token").(string); raw != "" {
		idt, err := p.idVerifier.Verify(ctx, raw)
		if err != nil {
			return ExchangeResult{}, fmt.Errorf("%s: id token: %w: %v", op, ErrInvalidToken, err)
		}
		var c userClaims
		if err := idt.Claims(&c); err != nil {
			return ExchangeResult{}, fmt.Errorf("%s: id token claims: %w", op, err)
		}
		res.IDToken = raw
		res.User = c.principal()
	}

	if res.User == nil && res.AccessToken != "" {
		// No usable ID token; ask the userinfo endpoint.
		info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
		if err == nil {
			var c userClaims
			if err := info.Claims(&c); err == nil {
				res.User = c.principal()
			}
		}
	}

	if err := res.Validate(); err != nil {
		return ExchangeResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (p *OIDC) ValidateAccessToken(ctx context.Context, accessToken string) (Validation, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Validation{}, fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}

	tok, err := p.accessVerifier.Verify(p.clientContext(ctx), accessToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return Validation{}, fmt.Errorf("%w: expired at %s", ErrInvalidToken, expired.Expiry.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return Validation{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c userClaims
	if err := tok.Claims(&c); err != nil {
		return Validation{Valid: true}, nil
	}
	return Validation{Valid: true, User: c.principal()}, nil
}

func (p *OIDC) RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshResult, error) {
	const op = "provider.RefreshAccessToken"
	if strings.TrimSpace(refreshToken) == "" {
		return RefreshResult{}, fmt.Errorf("%s: %w: empty refresh token", op, ErrInvalidParameter)
	}

	ctx = p.clientContext(ctx)
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}

	res := RefreshResult{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
	}
	// oauth2 carries the old refresh token forward when the server does not
	// rotate; only report a genuinely new one.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		res.RefreshToken = tok.RefreshToken
	}

	if raw, _ := tok.Extra("id_token").(string); raw != "" {
		if idt, err := p.idVerifier.Verify(ctx, raw); err == nil {
			var c userClaims
			if err := idt.Claims(&c); err == nil {
				res.IDToken = raw
				res.User = c.principal()
			}
		}
	}

	if err := res.Validate(); err != nil {
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (p *OIDC) LogoutURL(lp LogoutParams) (string, error) {
	u, err := url.Parse(p.endSessionURL)
	if err != nil {
		return "", fmt.Errorf("provider.LogoutURL: %w", err)
	}

	q := u.Query()
	if lp.IDTokenHint != "" {
		q.Set("id_token_hint", lp.IDTokenHint)
	}
	redirect := lp.PostLogoutRedirectURI
	if redirect == "" {
		redirect = p.cfg.PostLogoutRedirectURI
	}
	if redirect != "" {
		q.Set("post_logout_redirect_uri", redirect)
	}
	if lp.State != "" {
		q.Set("state", lp.State)
	}
	q.Set("client_id", p.cfg.ClientID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
