// Package tokencipher encrypts opaque access tokens for storage in browser
// cookies.
//
// Format: hex(nonce) + ":" + hex(ciphertext), with a fresh 16-byte nonce per
// encryption. The key is SHA-256 of a configured secret, derived once at
// startup. AES-256-GCM authenticates the ciphertext, so any modification of
// the blob fails decryption instead of yielding different plaintext.
//
// Environment:
//   - SSO_ENCRYPTION_KEY: the cipher secret. When blank a fixed development
//     secret is used and New reports it so the caller can warn loudly.
package tokencipher
