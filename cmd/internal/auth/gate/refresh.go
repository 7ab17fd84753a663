package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ssogate/cmd/identity"
	"ssogate/cmd/internal/auth/auditlog"
	"ssogate/cmd/internal/auth/cookies"
	"ssogate/cmd/internal/auth/provider"
	"ssogate/cmd/internal/auth/session"
)

var errNoRefreshToken = errors.New("no stored refresh token")

// refreshFor attempts one silent refresh for userID.
func (g *Gate) refreshFor(w http.ResponseWriter, r *http.Request, ip, userID string, sess session.Record, hasSession bool) (*identity.Principal, Reason) {
	ctx := r.Context()

	res, err := g.refreshShared(ctx, userID)
	if errors.Is(err, errNoRefreshToken) {
		g.refreshResult("no_token")
		g.audit.Warn(ctx, "No refresh token available for user", auditlog.Context{UserID: userID, IP: ip})
		return nil, ReasonNoRefreshPath
	}

	var blob string
	if err == nil {
		blob, err = g.cipher.Encrypt(res.AccessToken)
		if err != nil {
			err = fmt.Errorf("encrypt refreshed access token: %w", err)
			g.refresh.Delete(ctx, userID)
		}
	}
	if err != nil {
		g.refreshResult("error")
		g.audit.Error(ctx, "Token refresh failed", auditlog.Context{UserID: userID, Error: err.Error(), IP: ip})
		g.policy.Expire(w, cookies.AccessToken)
		g.policy.Expire(w, cookies.UserID)
		return nil, ReasonRefreshFailure
	}

	g.policy.Set(w, cookies.AccessToken, blob, cookies.AccessTokenMaxAge)

	user := res.User.Clone()
	if user == nil && hasSession {
		user = sess.User.Clone()
	}
	if hasSession {
		g.replaceSession(ctx, w, sess, res, userID)
	}

	g.refreshResult("ok")
	g.audit.Info(ctx, "Token refreshed successfully", userContext(user, userID, ip))
	return user, ReasonNone
}

// refreshShared performs the provider refresh for userID, sharing one call
// among concurrent requests for the same user. The stored token is read,
// rotated or deleted inside the flight, so late joiners never replay a
// token that was already rotated away.
func (g *Gate) refreshShared(ctx context.Context, userID string) (provider.RefreshResult, error) {
	v, err, _ := g.flights.Do(userID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		stored, ok := g.refresh.Get(fctx, userID)
		if !ok {
			return nil, errNoRefreshToken
		}

		res, err := g.provider.RefreshAccessToken(fctx, stored)
		if err == nil {
			err = res.Validate()
		}
		if err != nil {
			// Force a full login rather than retrying with a token the
			// provider may have already invalidated.
			g.refresh.Delete(fctx, userID)
			return nil, err
		}

		if res.RefreshToken != "" {
			g.refresh.Set(fctx, userID, res.RefreshToken)
		}
		return res, nil
	})
	if err != nil {
		return provider.RefreshResult{}, err
	}
	return v.(provider.RefreshResult), nil
}

func (g *Gate) replaceSession(ctx context.Context, w http.ResponseWriter, sess session.Record, res provider.RefreshResult, userID string) {
	next := sess.Next()
	if res.User != nil {
		next.User = res.User.Clone()
	}
	if res.IDToken != "" {
		next.IDToken = res.IDToken
	}
	next.UserID = userID

	if err := g.sessions.Replace(ctx, w, next); err != nil {
		g.log.Warn("auth.gate.session.replace.fail", "err", err, "session_id", sess.ID, "user_id", userID)
	}
}
