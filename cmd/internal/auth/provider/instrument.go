package provider

import (
	"context"
	"time"
)

// Observer records the latency and result of provider calls.
type Observer interface {
	ObserveProviderRequest(op, result string, d time.Duration)
}

// Instrumented wraps a Provider and reports every network-bound call to an
// Observer. Result labels are "ok" or "error".
type Instrumented struct {
	next Provider
	obs  Observer
	now  func() time.Time
}

var _ Provider = (*Instrumented)(nil)

// Instrument returns next unchanged when obs is nil.
func Instrument(next Provider, obs Observer) Provider {
	if obs == nil {
		return next
	}
	return &Instrumented{next: next, obs: obs, now: time.Now}
}

func (p *Instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.obs.ObserveProviderRequest(op, result, p.now().Sub(start))
}

func (p *Instrumented) AuthorizationURL(state string, scopes []string) (string, error) {
	return p.next.AuthorizationURL(state, scopes)
}

func (p *Instrumented) ExchangeCode(ctx context.Context, code string) (ExchangeResult, error) {
	start := p.now()
	res, err := p.next.ExchangeCode(ctx, code)
	p.observe("exchange", start, err)
	return res, err
}

func (p *Instrumented) ValidateAccessToken(ctx context.Context, accessToken string) (Validation, error) {
	start := p.now()
	res, err := p.next.ValidateAccessToken(ctx, accessToken)
	observed := err
	if observed == nil && !res.Valid {
		observed = ErrInvalidToken
	}
	p.observe("validate", start, observed)
	return res, err
}

func (p *Instrumented) RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshResult, error) {
	start := p.now()
	res, err := p.next.RefreshAccessToken(ctx, refreshToken)
	p.observe("refresh", start, err)
	return res, err
}

func (p *Instrumented) LogoutURL(lp LogoutParams) (string, error) {
	return p.next.LogoutURL(lp)
}
