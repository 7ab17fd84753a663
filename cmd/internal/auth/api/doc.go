// Package authapi serves the browser-facing SSO endpoints: the redirect to
// the identity provider, the authorization-code callback, logout, the
// gated /auth/me and audit log views, and a health probe.
package authapi
