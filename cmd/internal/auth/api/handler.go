package authapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ssogate/cmd/identity"
	"ssogate/cmd/identity/ids"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/cookies"
	"ssogate/cmd/internal/auth/gate"
	"ssogate/cmd/internal/auth/provider"
	"ssogate/cmd/internal/auth/refreshstore"
	"ssogate/cmd/internal/auth/session"
	"ssogate/cmd/internal/clientip"
)

const (
	// ErrCodeAuthenticationFailed is the only failure code the callback
	// reveals to the browser besides errors echoed from the provider.
	ErrCodeAuthenticationFailed = "authentication_failed"

	authenticationFailedDescription = "Authentication failed. Please try again."
)

var (
	errMissingCode   = errors.New("authorization code missing")
	errStateMismatch = errors.New("oauth state mismatch")
)

// Encrypter seals access tokens for the browser cookie.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Sessions is the slice of session.Manager the orchestrator uses.
type Sessions interface {
	NewRecord(user *identity.Principal, idToken, userID string) (session.Record, error)
	Load(r *http.Request) (session.Record, error)
	Replace(ctx context.Context, w http.ResponseWriter, rec session.Record) error
	Destroy(ctx context.Context, w http.ResponseWriter, id string) error
	Revoke(ctx context.Context, id string) error
	SetUserID(w http.ResponseWriter, userID string)
	UserID(r *http.Request) (string, error)
}

// Deps are the orchestrator's collaborators. Audit and Logger are optional.
type Deps struct {
	Provider provider.Provider
	Cipher   Encrypter
	Refresh  refreshstore.Store
	Sessions Sessions
	Gate     *gate.Gate
	Audit    *auditlog.Log
	Logger   *slog.Logger
	Cookies  cookies.Policy
}

// Handler wires the login, callback, logout and audit endpoints.
type Handler struct {
	log *slog.Logger
	cfg Config

	provider provider.Provider
	cipher   Encrypter
	refresh  refreshstore.Store
	sessions Sessions
	gate     *gate.Gate
	audit    *auditlog.Log
	cookies  cookies.Policy

	stream http.Handler
	now    func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogStream mounts h behind the gate at /auth/logs/stream.
func WithLogStream(stream http.Handler) HandlerOption {
	return func(h *Handler) {
		if h == nil || stream == nil {
			return
		}
		h.stream = stream
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

func NewHandler(d Deps, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if d.Provider == nil || d.Cipher == nil || d.Refresh == nil || d.Sessions == nil || d.Gate == nil {
		return nil, errors.New("authapi: provider, cipher, refresh store, sessions and gate are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authapi: %w", err)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	h := &Handler{
		log:      d.Logger,
		cfg:      cfg,
		provider: d.Provider,
		cipher:   d.Cipher,
		refresh:  d.Refresh,
		sessions: d.Sessions,
		gate:     d.Gate,
		audit:    d.Audit,
		cookies:  d.Cookies,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires routes under base (for example "/api/v1") onto mux.
func (h *Handler) Register(mux *http.ServeMux, base string) {
	if h == nil || mux == nil {
		return
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")

	mux.HandleFunc(base+"/auth", h.handleAuthorize)
	mux.HandleFunc(base+"/auth/callback", h.handleCallback)
	mux.HandleFunc(base+"/auth/logout", h.handleLogout)
	mux.Handle(base+"/auth/me", h.gate.Require(http.HandlerFunc(h.handleMe)))
	mux.Handle(base+"/auth/logs", h.gate.Require(http.HandlerFunc(h.handleLogs)))
	if h.stream != nil {
		mux.Handle(base+"/auth/logs/stream", h.gate.Require(h.stream))
	}
	mux.HandleFunc(base+"/health", h.handleHealth)
}

// ---- handlers ----

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ip := clientip.String(r, h.cfg.TrustProxy)

	state, err := ids.NewULID(h.now())
	if err == nil {
		var authURL string
		authURL, err = h.provider.AuthorizationURL(state, provider.DefaultScopes)
		if err == nil {
			h.cookies.Set(w, cookies.OAuthState, state, cookies.OAuthStateMaxAge)
			h.auditAuthorizeRedirect(ctx, ip)
			http.Redirect(w, r, authURL, http.StatusFound)
			return
		}
	}

	h.auditAuthorizeFailed(ctx, ip, err)
	writeError(w, http.StatusInternalServerError, "Failed to generate authorization URL", err.Error())
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ip := clientip.String(r, h.cfg.TrustProxy)

	req, err := h.readCallback(w, r)
	if err != nil {
		h.auditCallbackFailed(ctx, ip, fmt.Errorf("read callback: %w", err))
		h.redirectError(w, r, ErrCodeAuthenticationFailed, authenticationFailedDescription)
		return
	}

	// The state cookie is single use whatever happens next.
	expectedState := cookies.Value(r, cookies.OAuthState)
	if expectedState != "" {
		h.cookies.Expire(w, cookies.OAuthState)
	}

	if req.Error != "" {
		h.auditProviderError(ctx, ip, req.Error, req.ErrorDescription)
		h.redirectError(w, r, req.Error, req.ErrorDescription)
		return
	}
	// A login started here always carries state; a supplied state must match.
	if (expectedState != "" || req.State != "") && !secureStringEqual(req.State, expectedState) {
		h.auditCallbackFailed(ctx, ip, errStateMismatch)
		h.redirectError(w, r, ErrCodeAuthenticationFailed, authenticationFailedDescription)
		return
	}
	if req.Code == "" {
		h.auditCallbackFailed(ctx, ip, errMissingCode)
		h.redirectError(w, r, ErrCodeAuthenticationFailed, authenticationFailedDescription)
		return
	}

	login, err := h.exchange(ctx, req.Code)
	if err != nil {
		h.auditCallbackFailed(ctx, ip, err)
		h.redirectError(w, r, ErrCodeAuthenticationFailed, authenticationFailedDescription)
		return
	}

	h.establish(ctx, w, r, login)
	h.auditLoginSuccess(ctx, ip, login.userID, login.result.User)
	http.Redirect(w, r, h.frontendURL(h.cfg.DashboardPath, nil), http.StatusFound)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, _ := gate.PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, User: p})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	ip := clientip.String(r, h.cfg.TrustProxy)

	sess, err := h.sessions.Load(r)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		h.log.Warn("auth.logout.session.load.fail", "err", err)
	}

	userID := sess.UserID
	if userID == "" {
		// Only a verified id may name the refresh token to drop.
		if id, err := h.sessions.UserID(r); err == nil {
			userID = id
		} else if errors.Is(err, session.ErrForgedUserID) {
			h.log.Warn("auth.logout.user_id.forged", "ip", ip)
		}
	}
	if userID != "" {
		h.refresh.Delete(ctx, userID)
	}

	// Cookies are cleared even if the store is unreachable.
	if err := h.sessions.Destroy(ctx, w, sess.ID); err != nil {
		h.log.Error("auth.logout.session.destroy.fail", "err", err, "session_id", sess.ID)
	}
	h.cookies.Expire(w, cookies.AccessToken)
	h.cookies.Expire(w, cookies.UserID)

	logoutURL, err := h.provider.LogoutURL(provider.LogoutParams{IDTokenHint: sess.IDToken})
	if err != nil {
		h.auditLogoutURLFailed(ctx, ip, userID, err)
		logoutURL = h.frontendURL("", nil)
	}
	h.auditLogout(ctx, ip, userID)

	if h.cfg.LogoutMode == LogoutRedirect {
		http.Redirect(w, r, logoutURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{LogoutURL: logoutURL})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := h.audit.List()
		if entries == nil {
			entries = []auditlog.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodDelete:
		n := h.audit.Len()
		h.audit.Clear()
		p, _ := gate.PrincipalFrom(r.Context())
		h.log.Info("auth.logs.cleared", "count", n, "user_id", principalID(p))
		writeJSON(w, http.StatusOK, clearLogsResponse{Cleared: n})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Timestamp: h.now().UTC()})
}

// ---- helpers ----

type login struct {
	result provider.ExchangeResult
	userID string
	blob   string
}

// exchange turns an authorization code into everything the callback needs
// before it touches any state, so a failure leaves nothing behind.
func (h *Handler) exchange(ctx context.Context, code string) (login, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
	defer cancel()

	res, err := h.provider.ExchangeCode(ctx, code)
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		return login{}, fmt.Errorf("exchange code: %w", err)
	}

	userID, err := res.User.StableID()
	if err != nil {
		return login{}, fmt.Errorf("resolve user id: %w", err)
	}

	blob, err := h.cipher.Encrypt(res.AccessToken)
	if err != nil {
		return login{}, fmt.Errorf("encrypt access token: %w", err)
	}
	return login{result: res, userID: userID, blob: blob}, nil
}

// establish mints a fresh session (never reusing a pre-login id), stores
// the refresh token and sets the credential cookies.
func (h *Handler) establish(ctx context.Context, w http.ResponseWriter, r *http.Request, l login) {
	if old, err := h.sessions.Load(r); err == nil {
		if err := h.sessions.Revoke(ctx, old.ID); err != nil {
			h.log.Warn("auth.callback.session.revoke.fail", "err", err, "session_id", old.ID)
		}
	}

	rec, err := h.sessions.NewRecord(l.result.User, l.result.IDToken, l.userID)
	if err == nil {
		err = h.sessions.Replace(ctx, w, rec)
	}
	if err != nil {
		// The userId cookie still lets the gate find the refresh token.
		h.log.Warn("auth.callback.session.fail", "err", err, "user_id", l.userID)
	}

	if l.result.RefreshToken != "" {
		h.refresh.Set(ctx, l.userID, l.result.RefreshToken)
	}

	h.cookies.Set(w, cookies.AccessToken, l.blob, cookies.AccessTokenMaxAge)
	h.sessions.SetUserID(w, l.userID)
}

func (h *Handler) readCallback(w http.ResponseWriter, r *http.Request) (callbackRequest, error) {
	var req callbackRequest

	if r.Method == http.MethodPost && isJSON(r) {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			return callbackRequest{}, err
		}
	} else {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
		}
		if err := r.ParseForm(); err != nil {
			return callbackRequest{}, err
		}
		req = callbackRequest{
			Code:             r.Form.Get("code"),
			State:            r.Form.Get("state"),
			Error:            r.Form.Get("error"),
			ErrorDescription: r.Form.Get("error_description"),
		}
	}

	req.Code = strings.TrimSpace(req.Code)
	req.State = strings.TrimSpace(req.State)
	req.Error = strings.TrimSpace(req.Error)
	req.ErrorDescription = strings.TrimSpace(req.ErrorDescription)
	return req, nil
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, code, description string) {
	q := url.Values{}
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	http.Redirect(w, r, h.frontendURL("", q), http.StatusFound)
}

func (h *Handler) frontendURL(path string, q url.Values) string {
	u := strings.TrimRight(h.cfg.FrontendURL, "/") + path
	if path == "" {
		u += "/"
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func principalID(p *identity.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
