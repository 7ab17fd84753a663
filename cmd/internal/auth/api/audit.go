package authapi

import (
	"context"
	"fmt"
	"strings"

	"ssogate/cmd/identity"
	"ssogate/cmd/internal/auth/auditlog"
)

func (h *Handler) auditAuthorizeRedirect(ctx context.Context, ip string) {
	h.audit.Info(ctx, "Redirecting to identity provider for authentication", auditlog.Context{IP: ip})
}

func (h *Handler) auditAuthorizeFailed(ctx context.Context, ip string, err error) {
	h.audit.Error(ctx, "Failed to generate authorization URL", auditlog.Context{Error: err.Error(), IP: ip})
}

func (h *Handler) auditProviderError(ctx context.Context, ip string, code, description string) {
	msg := strings.TrimSpace(code)
	if d := strings.TrimSpace(description); d != "" {
		msg = fmt.Sprintf("%s: %s", msg, d)
	}
	h.audit.Warn(ctx, "Authentication error from identity provider", auditlog.Context{Error: msg, IP: ip})
}

func (h *Handler) auditCallbackFailed(ctx context.Context, ip string, err error) {
	h.audit.Error(ctx, "Authentication callback failed", auditlog.Context{Error: err.Error(), IP: ip})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, ip string, userID string, user *identity.Principal) {
	c := auditlog.Context{UserID: userID, IP: ip}
	if user != nil {
		c.Email = user.Email
	}
	h.audit.Info(ctx, "User authenticated successfully", c)
}

func (h *Handler) auditLogout(ctx context.Context, ip string, userID string) {
	h.audit.Info(ctx, "User logged out", auditlog.Context{UserID: userID, IP: ip})
}

func (h *Handler) auditLogoutURLFailed(ctx context.Context, ip string, userID string, err error) {
	h.audit.Warn(ctx, "Provider logout URL unavailable", auditlog.Context{UserID: userID, Error: err.Error(), IP: ip})
}
