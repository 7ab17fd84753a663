// Package token provides the keyed digest primitives used for session ids.
//
// It is the single source of truth for how opaque identifiers are
// authenticated and how they are hidden at rest.
//
// - Keys are derived from one operator secret with HKDF-SHA256; each use
//   gets its own info label so keys never repeat across purposes.
// - Digests are HMAC-SHA256; hex output is a stable 64 chars.
package token
