package provider

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "client-123"
	testKID      = "test-key"
)

// testIssuer is an in-process OIDC issuer with discovery, JWKS, token and
// userinfo endpoints.
type testIssuer struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	omitEndSession bool
}

func newTestIssuer(t *testing.T, omitEndSession bool) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ti := &testIssuer{t: t, key: key, omitEndSession: omitEndSession}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", ti.discovery)
	mux.HandleFunc("/jwks", ti.jwks)
	mux.HandleFunc("/token", ti.token)
	mux.HandleFunc("/userinfo", ti.userinfo)

	ti.srv = httptest.NewServer(mux)
	t.Cleanup(ti.srv.Close)
	return ti
}

func (ti *testIssuer) URL() string { return ti.srv.URL }

func (ti *testIssuer) config() Config {
	cfg := DefaultConfig()
	cfg.EnvironmentURL = ti.srv.URL
	cfg.ClientID = testClientID
	cfg.ClientSecret = "secret"
	cfg.RedirectURI = "http://localhost:3000/callback"
	cfg.PostLogoutRedirectURI = "http://localhost:3000"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (ti *testIssuer) discovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                ti.srv.URL,
		"authorization_endpoint":                ti.srv.URL + "/authorize",
		"token_endpoint":                        ti.srv.URL + "/token",
		"jwks_uri":                              ti.srv.URL + "/jwks",
		"userinfo_endpoint":                     ti.srv.URL + "/userinfo",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if !ti.omitEndSession {
		doc["end_session_endpoint"] = ti.srv.URL + "/session/end"
	}
	writeTestJSON(w, http.StatusOK, doc)
}

func (ti *testIssuer) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := ti.key.PublicKey
	writeTestJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (ti *testIssuer) sign(claims jwt.MapClaims) string {
	return signWith(ti.t, ti.key, claims)
}

func signWith(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKID
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func (ti *testIssuer) accessToken(sub string, ttl time.Duration) string {
	now := time.Now()
	return ti.sign(jwt.MapClaims{
		"iss":   ti.srv.URL,
		"sub":   sub,
		"aud":   "api://default",
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"email": sub + "@example.com",
	})
}

func (ti *testIssuer) idToken(sub string) string {
	now := time.Now()
	return ti.sign(jwt.MapClaims{
		"iss":            ti.srv.URL,
		"sub":            sub,
		"aud":            testClientID,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"name":           "Ada Lovelace",
		"email":          "Ada@Example.com",
		"email_verified": true,
		"picture":        "https://cdn.example.com/ada.png",
		"org_id":         "org_42",
	})
}

func (ti *testIssuer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	resp := map[string]any{
		"token_type": "Bearer",
		"expires_in": 300,
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		switch r.PostForm.Get("code") {
		case "good-code":
			resp["access_token"] = ti.accessToken("user-1", 5*time.Minute)
			resp["refresh_token"] = "rt-1"
			resp["id_token"] = ti.idToken("user-1")
		case "no-id-token":
			resp["access_token"] = ti.accessToken("user-ui", 5*time.Minute)
		default:
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		switch r.PostForm.Get("refresh_token") {
		case "rt-1":
			resp["access_token"] = ti.accessToken("user-1", 5*time.Minute)
			resp["refresh_token"] = "rt-2"
			resp["id_token"] = ti.idToken("user-1")
		case "rt-static":
			resp["access_token"] = ti.accessToken("user-1", 5*time.Minute)
		default:
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeTestJSON(w, http.StatusOK, resp)
}

func (ti *testIssuer) userinfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeTestJSON(w, http.StatusOK, map[string]any{
		"sub":   "user-ui",
		"email": "ui@example.com",
		"name":  "User Info",
	})
}
