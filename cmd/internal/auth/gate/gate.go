package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"ssogate/cmd/identity"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/cookies"
	"ssogate/cmd/internal/auth/provider"
	"ssogate/cmd/internal/auth/refreshstore"
	"ssogate/cmd/internal/auth/session"
	"ssogate/cmd/internal/clientip"
)

const DefaultProviderTimeout = 10 * time.Second

// Cipher protects the access token held in the browser cookie.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Sessions is the slice of session.Manager the gate uses.
type Sessions interface {
	Load(r *http.Request) (session.Record, error)
	Replace(ctx context.Context, w http.ResponseWriter, rec session.Record) error
	UserID(r *http.Request) (string, error)
}

// Recorder receives gate metrics.
type Recorder interface {
	GateOutcome(outcome, reason string)
	RefreshResult(result string)
}

// Deps are the gate's collaborators. Cipher, Refresh and Provider are
// required; the rest are optional.
type Deps struct {
	Cipher   Cipher
	Refresh  refreshstore.Store
	Provider provider.Provider
	Sessions Sessions
	Audit    *auditlog.Log
	Logger   *slog.Logger
	Metrics  Recorder
	Cookies  cookies.Policy

	// TrustProxy honors X-Forwarded-For when recording the client IP.
	TrustProxy bool
}

type Option func(*Gate)

// WithProviderTimeout bounds each validate and refresh call.
func WithProviderTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// Gate is an authentication middleware. It is safe for concurrent use.
type Gate struct {
	cipher     Cipher
	refresh    refreshstore.Store
	provider   provider.Provider
	sessions   Sessions
	audit      *auditlog.Log
	log        *slog.Logger
	metrics    Recorder
	policy     cookies.Policy
	trustProxy bool
	timeout    time.Duration

	flights singleflight.Group
}

func New(d Deps, opts ...Option) (*Gate, error) {
	if d.Cipher == nil || d.Refresh == nil || d.Provider == nil {
		return nil, errors.New("gate: cipher, refresh store and provider are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	g := &Gate{
		cipher:     d.Cipher,
		refresh:    d.Refresh,
		provider:   d.Provider,
		sessions:   d.Sessions,
		audit:      d.Audit,
		log:        d.Logger,
		metrics:    d.Metrics,
		policy:     d.Cookies,
		trustProxy: d.TrustProxy,
		timeout:    DefaultProviderTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Require admits authenticated requests to next with the principal attached
// to the request context; every other request is answered here.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, reason := g.Authenticate(w, r)
		if reason != ReasonNone {
			writeRejection(w, reason)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Authenticate runs the state machine for r, writing any cookie changes to
// w. It returns ReasonNone on success. It never panics.
func (g *Gate) Authenticate(w http.ResponseWriter, r *http.Request) (p *identity.Principal, reason Reason) {
	ip := clientip.String(r, g.trustProxy)

	defer func() {
		if rec := recover(); rec != nil {
			p, reason = nil, ReasonUpstreamFault
			g.fault(r.Context(), ip, fmt.Errorf("panic: %v", rec))
		}
	}()

	p, reason, how := g.authenticate(w, r, ip)
	if reason == ReasonNone {
		g.outcome("authenticated", how)
	} else {
		g.outcome("rejected", string(reason))
	}
	return p, reason
}

func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, ip string) (*identity.Principal, Reason, string) {
	ctx := r.Context()

	blob := cookies.Value(r, cookies.AccessToken)
	if blob == "" {
		g.audit.Warn(ctx, "No access token provided", auditlog.Context{IP: ip})
		return nil, ReasonMissingCredential, ""
	}

	token, err := g.cipher.Decrypt(blob)
	if err != nil {
		g.audit.Error(ctx, "Access token decryption failed", auditlog.Context{Error: err.Error(), IP: ip})
		g.policy.Expire(w, cookies.AccessToken)
		return nil, ReasonMalformedCredential, ""
	}

	sess, hasSession := g.loadSession(r)

	v, verr := g.validate(ctx, token)
	if verr == nil && v.Valid {
		user := v.User.Clone()
		if user == nil && hasSession {
			user = sess.User.Clone()
		}
		g.audit.Info(ctx, "Access token validated", userContext(user, sess.UserID, ip))
		return user, ReasonNone, "valid"
	}

	// Provider faults and plain rejections take the same path.
	if verr == nil {
		verr = provider.ErrInvalidToken
	}

	userID := sess.UserID
	if userID == "" {
		id, err := g.cookieUserID(r)
		if err != nil {
			g.audit.Warn(ctx, "User id cookie rejected", auditlog.Context{Error: err.Error(), IP: ip})
			g.policy.Expire(w, cookies.UserID)
			return nil, ReasonInvalidCredential, ""
		}
		userID = id
	}
	g.audit.Warn(ctx, "Access token invalid or expired", auditlog.Context{UserID: userID, Error: verr.Error(), IP: ip})

	if userID == "" {
		return nil, ReasonInvalidCredential, ""
	}

	user, reason := g.refreshFor(w, r, ip, userID, sess, hasSession)
	return user, reason, "refreshed"
}

func (g *Gate) validate(ctx context.Context, token string) (provider.Validation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	v, err := g.provider.ValidateAccessToken(ctx, token)
	if err != nil {
		return provider.Validation{}, err
	}
	if err := v.Validate(); err != nil {
		return provider.Validation{}, err
	}
	return v, nil
}

func (g *Gate) loadSession(r *http.Request) (session.Record, bool) {
	if g.sessions == nil {
		return session.Record{}, false
	}
	rec, err := g.sessions.Load(r)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			g.log.Warn("auth.gate.session.load.fail", "err", err)
		}
		return session.Record{}, false
	}
	return rec, true
}

// cookieUserID returns the verified user id cookie, or "" when there is
// none. Without a session manager the cookie cannot be verified and is
// ignored.
func (g *Gate) cookieUserID(r *http.Request) (string, error) {
	if g.sessions == nil {
		return "", nil
	}
	id, err := g.sessions.UserID(r)
	if errors.Is(err, session.ErrNotFound) {
		return "", nil
	}
	return id, err
}

func (g *Gate) fault(ctx context.Context, ip string, err error) {
	defer func() { _ = recover() }()
	g.outcome("faulted", string(ReasonUpstreamFault))
	g.log.Error("auth.gate.fault", "err", err, "ip", ip)
	g.audit.Error(ctx, "Auth middleware error", auditlog.Context{Error: err.Error(), IP: ip})
}

func (g *Gate) outcome(outcome, reason string) {
	if g.metrics != nil {
		g.metrics.GateOutcome(outcome, reason)
	}
}

func (g *Gate) refreshResult(result string) {
	if g.metrics != nil {
		g.metrics.RefreshResult(result)
	}
}

func userContext(p *identity.Principal, fallbackID, ip string) auditlog.Context {
	c := auditlog.Context{UserID: fallbackID, IP: ip}
	if p != nil {
		if p.ID != "" {
			c.UserID = p.ID
		}
		c.Email = p.Email
	}
	return c
}
