package session

import (
	"encoding/base64"
	"fmt"
	"strings"

	"ssogate/cmd/identity/ids"
	"ssogate/cmd/security/token"
)

const (
	signerInfo  = "ssogate session cookie v1"
	storageInfo = "ssogate session storage v1"
	userIDInfo  = "ssogate user id cookie v1"
)

// Signer authenticates session ids carried in cookies.
// Cookie value format: <ulid>.<base64url(HMAC-SHA256(ulid))>.
type Signer struct {
	key        []byte
	storageKey []byte
	userIDKey  []byte
}

// NewSigner derives the cookie and storage keys from secret.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: empty session secret", ErrConfig)
	}

	key, err := token.DeriveKey(secret, signerInfo)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	storageKey, err := token.DeriveKey(secret, storageInfo)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	userIDKey, err := token.DeriveKey(secret, userIDInfo)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Signer{key: key, storageKey: storageKey, userIDKey: userIDKey}, nil
}

func (s *Signer) mac(id string) []byte {
	return token.MAC(s.key, id)
}

// StorageKey maps a session id to the name it is stored under, so a store
// dump does not reveal ids that could be replayed as cookies.
func (s *Signer) StorageKey(id string) string {
	return token.DigestHex(s.storageKey, id)
}

func (s *Signer) Sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

// Verify returns the session id when value is well formed and authentic.
func (s *Signer) Verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(strings.TrimSpace(value), ".")
	if !ok || !ids.IsULID(id) || sig == "" {
		return "", false
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !token.Equal(got, s.mac(id)) {
		return "", false
	}
	return id, true
}

// SignUserID binds a provider user id to this deployment's secret.
// Cookie value format: <id>.<base64url(HMAC-SHA256(id))>. The id may itself
// contain dots; the tag never does.
func (s *Signer) SignUserID(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(token.MAC(s.userIDKey, id))
}

// VerifyUserID returns the user id when value carries a valid tag.
func (s *Signer) VerifyUserID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", false
	}
	id, sig := value[:i], value[i+1:]

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !token.Equal(got, token.MAC(s.userIDKey, id)) {
		return "", false
	}
	return id, true
}
