package gate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssogate/cmd/identity"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/cookies"
	"ssogate/cmd/internal/auth/provider"
	"ssogate/cmd/internal/auth/provider/providertest"
	"ssogate/cmd/internal/auth/refreshstore"
	"ssogate/cmd/internal/auth/session"
	"ssogate/cmd/security/tokencipher"
)

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	refresh  []string
}

func (f *fakeRecorder) GateOutcome(outcome, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome+"/"+reason)
}

func (f *fakeRecorder) RefreshResult(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = append(f.refresh, result)
}

type harness struct {
	t        *testing.T
	gate     *Gate
	cipher   *tokencipher.Cipher
	store    *refreshstore.Memory
	stub     *providertest.Stub
	sessions *session.Manager
	sstore   *session.MemoryStore
	audit    *auditlog.Log
	metrics  *fakeRecorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	c, _, err := tokencipher.New("gate-test-secret")
	require.NoError(t, err)

	signer, err := session.NewSigner("gate-session-secret")
	require.NoError(t, err)
	sstore := session.NewMemoryStore()
	mgr, err := session.NewManager(sstore, signer, cookies.DefaultPolicy(false), 24*time.Hour)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		cipher:   c,
		store:    refreshstore.NewMemory(),
		stub:     &providertest.Stub{},
		sessions: mgr,
		sstore:   sstore,
		audit:    auditlog.New(auditlog.WithLogger(discardLogger())),
		metrics:  &fakeRecorder{},
	}

	h.gate, err = New(Deps{
		Cipher:   h.cipher,
		Refresh:  h.store,
		Provider: h.stub,
		Sessions: mgr,
		Audit:    h.audit,
		Logger:   discardLogger(),
		Metrics:  h.metrics,
		Cookies:  cookies.DefaultPolicy(false),
	}, WithProviderTimeout(2*time.Second))
	require.NoError(t, err)
	return h
}

func (h *harness) encrypt(token string) string {
	h.t.Helper()
	blob, err := h.cipher.Encrypt(token)
	require.NoError(h.t, err)
	return blob
}

// startSession stores a session for user and returns its cookie.
func (h *harness) startSession(user *identity.Principal, userID string) (*http.Cookie, session.Record) {
	h.t.Helper()
	rec, err := h.sessions.NewRecord(user, "idt-0", userID)
	require.NoError(h.t, err)
	rr := httptest.NewRecorder()
	require.NoError(h.t, h.sessions.Replace(context.Background(), rr, rec))
	for _, c := range rr.Result().Cookies() {
		if c.Name == cookies.Session {
			return &http.Cookie{Name: c.Name, Value: c.Value}, rec
		}
	}
	h.t.Fatal("session cookie not set")
	return nil, rec
}

type result struct {
	rr        *httptest.ResponseRecorder
	nextCalls int
	principal *identity.Principal
}

func (h *harness) serve(reqCookies ...*http.Cookie) result {
	h.t.Helper()

	var res result
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.nextCalls++
		p, ok := PrincipalFrom(r.Context())
		require.True(h.t, ok)
		res.principal = p
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	for _, c := range reqCookies {
		if c != nil {
			req.AddCookie(c)
		}
	}

	res.rr = httptest.NewRecorder()
	h.gate.Require(next).ServeHTTP(res.rr, req)
	return res
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeRejection(t *testing.T, rr *httptest.ResponseRecorder) rejection {
	t.Helper()
	var body rejection
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func accessCookie(v string) *http.Cookie { return &http.Cookie{Name: cookies.AccessToken, Value: v} }
func rawUserIDCookie(v string) *http.Cookie { return &http.Cookie{Name: cookies.UserID, Value: v} }

// userIDCookie returns the signed cookie the callback would have set for id.
func (h *harness) userIDCookie(id string) *http.Cookie {
	h.t.Helper()
	rr := httptest.NewRecorder()
	h.sessions.SetUserID(rr, id)
	c := responseCookie(rr, cookies.UserID)
	require.NotNil(h.t, c)
	return &http.Cookie{Name: c.Name, Value: c.Value}
}

func validFor(tokens map[string]*identity.Principal) func(context.Context, string) (provider.Validation, error) {
	return func(_ context.Context, tok string) (provider.Validation, error) {
		if p, ok := tokens[tok]; ok {
			return provider.Validation{Valid: true, User: p}, nil
		}
		return provider.Validation{Valid: false}, nil
	}
}

func TestGate_NoCookie(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res := h.serve()

	assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
	assert.Equal(t, 0, res.nextCalls)
	body := decodeRejection(t, res.rr)
	assert.False(t, body.Authenticated)
	assert.Equal(t, MsgNoToken, body.Message)
	assert.Equal(t, string(ReasonMissingCredential), body.Code)
	assert.Empty(t, res.rr.Result().Cookies())

	logs := h.audit.List()
	require.NotEmpty(t, logs)
	assert.Equal(t, auditlog.LevelWarn, logs[0].Level)
	assert.Equal(t, "198.51.100.7", logs[0].Context.IP)
	assert.Equal(t, 0, h.stub.Calls("validate"))
}

func TestGate_MalformedCookie(t *testing.T) {
	t.Parallel()

	for name, blob := range map[string]string{
		"garbage":  "not-a-valid-blob",
		"tampered": "",
	} {
		name, blob := name, blob
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			if blob == "" {
				good := []byte(h.encrypt("opaque-token"))
				last := len(good) - 1
				if good[last] == '0' {
					good[last] = '1'
				} else {
					good[last] = '0'
				}
				blob = string(good)
			}

			res := h.serve(accessCookie(blob))

			assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
			body := decodeRejection(t, res.rr)
			assert.Equal(t, MsgInvalidFormat, body.Message)
			assert.Equal(t, string(ReasonMalformedCredential), body.Code)

			c := responseCookie(res.rr, cookies.AccessToken)
			require.NotNil(t, c, "access token cookie must be cleared")
			assert.Less(t, c.MaxAge, 0)

			assert.Equal(t, auditlog.LevelError, h.audit.List()[0].Level)
			assert.Equal(t, 0, h.stub.Calls("validate"))
		})
	}
}

func TestGate_ValidToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	user := &identity.Principal{ID: "u1", Email: "u1@example.com", Name: "User One"}
	h.stub.ValidateFunc = validFor(map[string]*identity.Principal{"at-1": user})

	res := h.serve(accessCookie(h.encrypt("at-1")))

	assert.Equal(t, http.StatusOK, res.rr.Code)
	assert.Equal(t, 1, res.nextCalls)
	require.NotNil(t, res.principal)
	assert.Equal(t, "u1", res.principal.ID)
	assert.Empty(t, res.rr.Result().Cookies(), "no cookie mutation on the valid path")
	assert.Equal(t, 0, h.stub.Calls("refresh"))

	e := h.audit.List()[0]
	assert.Equal(t, auditlog.LevelInfo, e.Level)
	assert.Equal(t, "u1@example.com", e.Context.Email)
	assert.Equal(t, []string{"authenticated/valid"}, h.metrics.outcomes)
}

func TestGate_ValidToken_FallsBackToSessionUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(map[string]*identity.Principal{"at-1": nil})
	sid, _ := h.startSession(&identity.Principal{ID: "u1", Name: "From Session"}, "u1")

	res := h.serve(accessCookie(h.encrypt("at-1")), sid)

	assert.Equal(t, http.StatusOK, res.rr.Code)
	require.NotNil(t, res.principal)
	assert.Equal(t, "From Session", res.principal.Name)
}

func TestGate_ExpiredToken_RefreshSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	refreshed := &identity.Principal{ID: "u1", Email: "u1@example.com", Name: "Fresh"}
	h.stub.ValidateFunc = validFor(nil)
	h.stub.RefreshFunc = func(_ context.Context, rt string) (provider.RefreshResult, error) {
		if rt != "rt-1" {
			return provider.RefreshResult{}, errors.New("invalid_grant")
		}
		return provider.RefreshResult{AccessToken: "at-2", RefreshToken: "rt-2", IDToken: "idt-2", User: refreshed}, nil
	}
	h.store.Set(context.Background(), "u1", "rt-1")
	sid, rec := h.startSession(&identity.Principal{ID: "u1", Name: "Stale"}, "u1")

	oldBlob := h.encrypt("at-1")
	res := h.serve(accessCookie(oldBlob), sid)

	require.Equal(t, http.StatusOK, res.rr.Code)
	assert.Equal(t, 1, res.nextCalls)
	require.NotNil(t, res.principal)
	assert.Equal(t, "Fresh", res.principal.Name)

	c := responseCookie(res.rr, cookies.AccessToken)
	require.NotNil(t, c)
	assert.NotEqual(t, oldBlob, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, int(cookies.AccessTokenMaxAge.Seconds()), c.MaxAge)
	plain, err := h.cipher.Decrypt(c.Value)
	require.NoError(t, err)
	assert.Equal(t, "at-2", plain)

	rt, ok := h.store.Get(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, "rt-2", rt)

	stored, err := h.sstore.Load(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "Fresh", stored.User.Name)
	assert.Equal(t, "idt-2", stored.IDToken)

	assert.Equal(t, []string{"ok"}, h.metrics.refresh)
	assert.Equal(t, []string{"authenticated/refreshed"}, h.metrics.outcomes)
}

func TestGate_ExpiredToken_RefreshWithoutRotation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)
	h.stub.RefreshFunc = func(context.Context, string) (provider.RefreshResult, error) {
		return provider.RefreshResult{AccessToken: "at-2"}, nil
	}
	h.store.Set(context.Background(), "u1", "rt-1")

	// No session: the user id comes from the signed companion cookie.
	res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("u1"))

	require.Equal(t, http.StatusOK, res.rr.Code)
	assert.Nil(t, res.principal)
	rt, _ := h.store.Get(context.Background(), "u1")
	assert.Equal(t, "rt-1", rt)
}

func TestGate_ExpiredToken_RefreshFails(t *testing.T) {
	t.Parallel()

	cases := map[string]func(context.Context, string) (provider.RefreshResult, error){
		"provider error": func(context.Context, string) (provider.RefreshResult, error) {
			return provider.RefreshResult{}, errors.New("invalid_grant")
		},
		"missing access token": func(context.Context, string) (provider.RefreshResult, error) {
			return provider.RefreshResult{RefreshToken: "rt-2"}, nil
		},
		"timeout": func(ctx context.Context, _ string) (provider.RefreshResult, error) {
			<-ctx.Done()
			return provider.RefreshResult{}, ctx.Err()
		},
	}

	for name, refresh := range cases {
		name, refresh := name, refresh
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.gate.timeout = 100 * time.Millisecond
			h.stub.ValidateFunc = validFor(nil)
			h.stub.RefreshFunc = refresh
			h.store.Set(context.Background(), "u1", "rt-1")
			sid, _ := h.startSession(&identity.Principal{ID: "u1"}, "u1")

			res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("u1"), sid)

			assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
			assert.Equal(t, 0, res.nextCalls)
			body := decodeRejection(t, res.rr)
			assert.Equal(t, MsgSessionExpired, body.Message)
			assert.Equal(t, string(ReasonRefreshFailure), body.Code)

			for _, name := range []string{cookies.AccessToken, cookies.UserID} {
				c := responseCookie(res.rr, name)
				require.NotNil(t, c, "%s must be cleared", name)
				assert.Less(t, c.MaxAge, 0)
			}

			_, ok := h.store.Get(context.Background(), "u1")
			assert.False(t, ok, "refresh token must be removed")
			assert.Equal(t, 1, h.stub.Calls("refresh"), "refresh is attempted once")
			assert.Equal(t, auditlog.LevelError, h.audit.List()[0].Level)
		})
	}
}

func TestGate_ValidationErrorTakesRefreshPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = func(context.Context, string) (provider.Validation, error) {
		return provider.Validation{}, errors.New("dial tcp: connection refused")
	}
	h.stub.RefreshFunc = func(context.Context, string) (provider.RefreshResult, error) {
		return provider.RefreshResult{AccessToken: "at-2"}, nil
	}
	h.store.Set(context.Background(), "u1", "rt-1")

	res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("u1"))
	assert.Equal(t, http.StatusOK, res.rr.Code)
	assert.Equal(t, 1, h.stub.Calls("refresh"))
}

func TestGate_NoStoredRefreshToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)

	res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("u1"))

	assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
	body := decodeRejection(t, res.rr)
	assert.Equal(t, MsgSessionExpired, body.Message)
	assert.Equal(t, string(ReasonNoRefreshPath), body.Code)
	assert.Equal(t, 0, h.stub.Calls("refresh"))
	assert.Equal(t, auditlog.LevelWarn, h.audit.List()[0].Level)
	assert.Equal(t, []string{"no_token"}, h.metrics.refresh)
}

func TestGate_NoUserID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)

	res := h.serve(accessCookie(h.encrypt("at-1")))

	assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
	body := decodeRejection(t, res.rr)
	assert.Equal(t, MsgSessionExpired, body.Message)
	assert.Equal(t, string(ReasonInvalidCredential), body.Code)
}

func TestGate_ForgedUserIDCookie(t *testing.T) {
	t.Parallel()

	forged := map[string]func(t *testing.T, h *harness) *http.Cookie{
		"plain id": func(*testing.T, *harness) *http.Cookie { return rawUserIDCookie("victim") },
		"tag from another user": func(_ *testing.T, h *harness) *http.Cookie {
			_, tag, _ := strings.Cut(h.userIDCookie("attacker").Value, ".")
			return rawUserIDCookie("victim." + tag)
		},
		"other deployment": func(t *testing.T, _ *harness) *http.Cookie {
			other, err := session.NewSigner("someone-elses-secret")
			require.NoError(t, err)
			return rawUserIDCookie(other.SignUserID("victim"))
		},
	}

	for name, cookie := range forged {
		name, cookie := name, cookie
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.stub.ValidateFunc = validFor(nil)
			h.stub.RefreshFunc = func(context.Context, string) (provider.RefreshResult, error) {
				return provider.RefreshResult{
					AccessToken: "at-victim",
					User:        &identity.Principal{ID: "victim", Email: "victim@example.com"},
				}, nil
			}
			h.store.Set(context.Background(), "victim", "rt-victim")

			res := h.serve(accessCookie(h.encrypt("at-attacker-expired")), cookie(t, h))

			assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
			assert.Equal(t, 0, res.nextCalls)
			assert.Equal(t, string(ReasonInvalidCredential), decodeRejection(t, res.rr).Code)
			assert.Equal(t, 0, h.stub.Calls("refresh"))
			assert.Nil(t, responseCookie(res.rr, cookies.AccessToken), "no access token may be issued")

			c := responseCookie(res.rr, cookies.UserID)
			require.NotNil(t, c)
			assert.Less(t, c.MaxAge, 0)

			rt, ok := h.store.Get(context.Background(), "victim")
			require.True(t, ok)
			assert.Equal(t, "rt-victim", rt)
		})
	}
}

func TestGate_UserIDCookieIgnoredWithoutSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)
	h.store.Set(context.Background(), "u1", "rt-1")
	uid := h.userIDCookie("u1")
	h.gate.sessions = nil

	res := h.serve(accessCookie(h.encrypt("at-1")), uid)

	assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
	assert.Equal(t, string(ReasonInvalidCredential), decodeRejection(t, res.rr).Code)
	assert.Equal(t, 0, h.stub.Calls("refresh"))
}

func TestGate_SessionUserIDTakesPrecedence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)

	var usedToken string
	h.stub.RefreshFunc = func(_ context.Context, rt string) (provider.RefreshResult, error) {
		usedToken = rt
		return provider.RefreshResult{AccessToken: "at-2"}, nil
	}
	h.store.Set(context.Background(), "from-session", "rt-session")
	h.store.Set(context.Background(), "from-cookie", "rt-cookie")
	sid, _ := h.startSession(nil, "from-session")

	res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("from-cookie"), sid)

	require.Equal(t, http.StatusOK, res.rr.Code)
	assert.Equal(t, "rt-session", usedToken)
}

func TestGate_PanicIsFault(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.ValidateFunc = func(context.Context, string) (provider.Validation, error) {
		panic("sdk exploded")
	}

	res := h.serve(accessCookie(h.encrypt("at-1")))

	assert.Equal(t, http.StatusInternalServerError, res.rr.Code)
	assert.Equal(t, 0, res.nextCalls)
	body := decodeRejection(t, res.rr)
	assert.False(t, body.Authenticated)
	assert.Equal(t, MsgFault, body.Message)
	assert.Empty(t, body.Code)
	assert.Contains(t, h.metrics.outcomes, "faulted/upstream_fault")
}

type brokenEncrypter struct{ *tokencipher.Cipher }

func (brokenEncrypter) Encrypt(string) (string, error) { return "", errors.New("entropy exhausted") }

func TestGate_EncryptFailureAfterRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gate.cipher = brokenEncrypter{h.cipher}
	h.stub.ValidateFunc = validFor(nil)
	h.stub.RefreshFunc = func(context.Context, string) (provider.RefreshResult, error) {
		return provider.RefreshResult{AccessToken: "at-2", RefreshToken: "rt-2"}, nil
	}
	h.store.Set(context.Background(), "u1", "rt-1")

	res := h.serve(accessCookie(h.encrypt("at-1")), h.userIDCookie("u1"))

	assert.Equal(t, http.StatusUnauthorized, res.rr.Code)
	assert.Equal(t, string(ReasonRefreshFailure), decodeRejection(t, res.rr).Code)
	_, ok := h.store.Get(context.Background(), "u1")
	assert.False(t, ok)
}

func TestGate_ConcurrentRefreshIsCoalesced(t *testing.T) {
	t.Parallel()

	const n = 8
	h := newHarness(t)
	h.stub.ValidateFunc = validFor(nil)

	release := make(chan struct{})
	var mu sync.Mutex
	current := "rt-1"
	h.stub.RefreshFunc = func(_ context.Context, rt string) (provider.RefreshResult, error) {
		<-release
		mu.Lock()
		defer mu.Unlock()
		// Rotation: the presented token is single use.
		if rt != current {
			return provider.RefreshResult{}, errors.New("invalid_grant: token reused")
		}
		current = rt + "+"
		return provider.RefreshResult{AccessToken: "at-new", RefreshToken: current}, nil
	}
	h.store.Set(context.Background(), "u1", "rt-1")
	blob := h.encrypt("at-old")
	uid := h.userIDCookie("u1")

	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- h.serve(accessCookie(blob), uid).rr.Code
		}()
	}

	require.Eventually(t, func() bool { return h.stub.Calls("validate") == n }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 1, h.stub.Calls("refresh"))

	rt, ok := h.store.Get(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, "rt-1+", rt)
}

func TestReasonMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MsgNoToken, ReasonMissingCredential.Message())
	assert.Equal(t, MsgInvalidFormat, ReasonMalformedCredential.Message())
	for _, r := range []Reason{ReasonInvalidCredential, ReasonNoRefreshPath, ReasonRefreshFailure} {
		assert.Equal(t, MsgSessionExpired, r.Message(), r)
	}
	assert.Equal(t, MsgFault, ReasonUpstreamFault.Message())
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), nil)
	p, ok := PrincipalFrom(ctx)
	assert.True(t, ok)
	assert.Nil(t, p)
}

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{})
	assert.Error(t, err)
}
