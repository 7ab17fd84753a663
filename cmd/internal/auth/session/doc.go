// Package session implements server-side sessions for the SSO gate.
//
// A session is an explicit versioned Record keyed by an opaque ULID. Every
// mutation is a single Replace that must carry exactly the stored version
// plus one, so concurrent writers cannot silently overwrite each other.
//
// The browser holds only the session id, signed with an HMAC key derived via
// HKDF from SSO_SESSION_SECRET. A cookie that fails verification reads as
// "no session".
//
// Stores: MemoryStore (process-local, TTL evicting) and RedisStore
// (optimistic WATCH/MULTI replace, native key expiry).
package session
