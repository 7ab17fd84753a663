package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every derived key in bytes.
const KeySize = 32

// DeriveKey expands secret into a KeySize-byte key with HKDF-SHA256. Distinct
// info labels yield independent keys from the same secret.
func DeriveKey(secret, info string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	if strings.TrimSpace(info) == "" {
		return nil, ErrEmptyInfo
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	return key, nil
}

// MAC returns HMAC-SHA256(s, key).
func MAC(key []byte, s string) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return m.Sum(nil)
}

// DigestHex returns the 64-char hex form of MAC(key, s).
func DigestHex(key []byte, s string) string {
	return hex.EncodeToString(MAC(key, s))
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
