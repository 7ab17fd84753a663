package gate

import (
	"context"

	"ssogate/cmd/identity"
)

type principalKey struct{}

type admitted struct {
	p *identity.Principal
}

// WithPrincipal marks ctx as having passed the gate. p may be nil when
// neither the provider nor the session knew the user.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, admitted{p: p})
}

// PrincipalFrom reports whether ctx passed the gate and the principal it carries.
func PrincipalFrom(ctx context.Context) (*identity.Principal, bool) {
	a, ok := ctx.Value(principalKey{}).(admitted)
	if !ok {
		return nil, false
	}
	return a.p, true
}
