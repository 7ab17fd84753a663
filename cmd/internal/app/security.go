package app

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var ErrInsecureProductionConfig = errors.New("security policy: insecure configuration in production")

// SecretStatus reports which secrets fell back to their published
// development defaults.
type SecretStatus struct {
	EncryptionKeyFallback bool
	SessionSecretFallback bool
}

// ValidateSecurityConfig enforces the startup security policy.
//
// - Production refuses to start on any fallback secret.
// - Development starts anyway and logs a warning per fallback.
func ValidateSecurityConfig(cfg Config, st SecretStatus, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	var problems []string
	if st.EncryptionKeyFallback {
		problems = append(problems, "SSO_ENCRYPTION_KEY is unset; the built-in development key is in use")
	}
	if st.SessionSecretFallback {
		problems = append(problems, "SSO_SESSION_SECRET is unset; the built-in development secret is in use")
	}
	if cfg.IsProduction() && !strings.HasPrefix(strings.ToLower(cfg.FrontendURL), "https://") {
		log.Warn("security.frontend.plain_http", "frontend_url", cfg.FrontendURL)
	}

	if !cfg.IsProduction() {
		for _, p := range problems {
			log.Warn("security.fallback_secret", "detail", p)
		}
		return nil
	}

	var retErr *multierror.Error
	for _, p := range problems {
		retErr = multierror.Append(retErr, errors.New(p))
	}
	if err := retErr.ErrorOrNil(); err != nil {
		return errors.Join(ErrInsecureProductionConfig, err)
	}
	return nil
}
