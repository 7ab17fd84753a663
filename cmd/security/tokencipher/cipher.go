package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvKey is the env var holding the cipher secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	EnvKey = "SSO_ENCRYPTION_KEY"

	// FallbackSecret is used when no secret is configured. Never use it in production.
	// #nosec G101 -- published development default, flagged at startup.
	FallbackSecret = "default-encryption-key-change-this-in-production"

	// NonceSize is the per-encryption nonce length in bytes.
	NonceSize = 16

	separator = ":"
)

// Cipher encrypts and decrypts token strings under a fixed key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the key from secret and builds a Cipher. usedFallback reports
// whether secret was blank and FallbackSecret was used instead.
func New(secret string) (c *Cipher, usedFallback bool, err error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret = FallbackSecret
		usedFallback = true
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, usedFallback, fmt.Errorf("tokencipher: new block: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, usedFallback, fmt.Errorf("tokencipher: new gcm: %w", err)
	}
	return &Cipher{aead: aead}, usedFallback, nil
}

// NewFromEnv builds a Cipher from SSO_ENCRYPTION_KEY.
func NewFromEnv() (*Cipher, bool, error) {
	return New(os.Getenv(EnvKey))
}

// Encrypt seals plaintext under a fresh nonce and returns "nonceHex:ciphertextHex".
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("tokencipher: nonce: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. The blob is split on the first ":"; anything that
// is not exactly a 16-byte hex nonce followed by authentic hex ciphertext is
// rejected.
func (c *Cipher) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", ErrEmptyInput
	}

	nonceHex, ctHex, ok := strings.Cut(blob, separator)
	if !ok || nonceHex == "" || ctHex == "" {
		return "", ErrMalformed
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", ErrMalformed
	}
	if len(nonce) != NonceSize {
		return "", ErrNonceLength
	}

	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrMalformed
	}

	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(pt), nil
}

// EncryptOrEmpty is Encrypt for callers that only need success or failure.
// It returns "" on any error and never panics.
func (c *Cipher) EncryptOrEmpty(plaintext string) string {
	if c == nil {
		return ""
	}
	out, err := c.Encrypt(plaintext)
	if err != nil {
		return ""
	}
	return out
}

// DecryptOrEmpty is Decrypt for callers that only need success or failure.
func (c *Cipher) DecryptOrEmpty(blob string) string {
	if c == nil {
		return ""
	}
	out, err := c.Decrypt(blob)
	if err != nil {
		return ""
	}
	return out
}
