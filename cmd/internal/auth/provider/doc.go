// Package provider is the boundary to the external identity provider.
//
// The Provider interface is the only capability the gate and the callback
// handlers need: build an authorization URL, exchange a code, validate an
// access token, refresh it, and build a logout URL. Results are explicit
// types with required and optional fields; Validate rejects structurally
// incomplete results with ErrIncompleteResult so callers never dereference
// missing data.
//
// OIDC implements Provider for any OpenID Connect issuer with discovery
// (tested against Scalekit-style environments).
package provider
