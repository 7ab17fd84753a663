package provider

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config configures the OIDC provider adapter.
type Config struct {
	// EnvironmentURL is the issuer; discovery is fetched from
	// EnvironmentURL + "/.well-known/openid-configuration".
	EnvironmentURL string

	ClientID     string
	ClientSecret string

	// RedirectURI is the fixed callback URI registered with the provider.
	RedirectURI string

	// PostLogoutRedirectURI is used when LogoutParams does not carry one.
	PostLogoutRedirectURI string

	// Timeout bounds every provider HTTP request.
	Timeout time.Duration

	// CACertPEM optionally pins the CA used to reach the provider.
	CACertPEM string
}

func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
	}
}

// LoadConfigFromEnv loads provider configuration from environment variables.
//
// Required:
//   - SSO_IDP_ENVIRONMENT_URL
//   - SSO_IDP_CLIENT_ID
//   - SSO_IDP_CLIENT_SECRET
//
// Optional:
//   - SSO_IDP_REDIRECT_URI (default: frontendURL + "/callback")
//   - SSO_IDP_POST_LOGOUT_REDIRECT_URI (default: frontendURL)
//   - SSO_IDP_TIMEOUT (Go duration, default 10s)
//   - SSO_IDP_CA_PEM
func LoadConfigFromEnv(frontendURL string) (Config, error) {
	cfg := DefaultConfig()
	frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")

	cfg.EnvironmentURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SSO_IDP_ENVIRONMENT_URL")), "/")
	cfg.ClientID = strings.TrimSpace(os.Getenv("SSO_IDP_CLIENT_ID"))
	cfg.ClientSecret = strings.TrimSpace(os.Getenv("SSO_IDP_CLIENT_SECRET"))
	cfg.CACertPEM = os.Getenv("SSO_IDP_CA_PEM")

	cfg.RedirectURI = strings.TrimSpace(os.Getenv("SSO_IDP_REDIRECT_URI"))
	if cfg.RedirectURI == "" && frontendURL != "" {
		cfg.RedirectURI = frontendURL + "/callback"
	}
	cfg.PostLogoutRedirectURI = strings.TrimSpace(os.Getenv("SSO_IDP_POST_LOGOUT_REDIRECT_URI"))
	if cfg.PostLogoutRedirectURI == "" {
		cfg.PostLogoutRedirectURI = frontendURL
	}

	if v := strings.TrimSpace(os.Getenv("SSO_IDP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: SSO_IDP_TIMEOUT %q", ErrConfig, v)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var retErr *multierror.Error

	if c.EnvironmentURL == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: missing environment url", ErrConfig))
	} else if err := checkAbsURL(c.EnvironmentURL); err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: environment url: %v", ErrConfig, err))
	}
	if c.ClientID == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: missing client id", ErrConfig))
	}
	if c.ClientSecret == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: missing client secret", ErrConfig))
	}
	if c.RedirectURI == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: missing redirect uri", ErrConfig))
	} else if err := checkAbsURL(c.RedirectURI); err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: redirect uri: %v", ErrConfig, err))
	}
	if c.Timeout <= 0 {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: timeout must be positive", ErrConfig))
	}

	return retErr.ErrorOrNil()
}

func checkAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
