// Package identity holds the authenticated principal model shared by the
// session, gate and HTTP layers.
//
// A Principal is an immutable snapshot captured when the provider vouches for
// a user (code exchange, token validation or refresh). Callers replace it; they
// never mutate it in place.
package identity
