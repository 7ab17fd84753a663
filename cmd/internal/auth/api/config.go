package authapi

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// LogoutMode selects how GET /auth/logout hands the provider logout URL
// back to the browser.
type LogoutMode string

const (
	LogoutJSON     LogoutMode = "json"
	LogoutRedirect LogoutMode = "redirect"
)

const (
	defaultFrontendURL   = "http://localhost:3000"
	defaultDashboardPath = "/dashboard"
)

// Config controls orchestrator behavior.
type Config struct {
	FrontendURL   string
	DashboardPath string
	LogoutMode    LogoutMode
	TrustProxy    bool
	MaxBodyBytes  int64

	// ProviderTimeout bounds the code exchange.
	ProviderTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FrontendURL:     defaultFrontendURL,
		DashboardPath:   defaultDashboardPath,
		LogoutMode:      LogoutJSON,
		MaxBodyBytes:    64 << 10,
		ProviderTimeout: 10 * time.Second,
	}
}

// LoadConfigFromEnv loads orchestrator config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.FrontendURL = strings.TrimRight(envString("SSO_FRONTEND_URL", cfg.FrontendURL), "/")
	cfg.DashboardPath = envString("SSO_DASHBOARD_PATH", cfg.DashboardPath)
	cfg.LogoutMode = parseLogoutMode(os.Getenv("SSO_LOGOUT_MODE"))
	cfg.TrustProxy = envBool("SSO_TRUST_PROXY", false)
	cfg.MaxBodyBytes = envInt64("SSO_API_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.ProviderTimeout = envDuration("SSO_IDP_TIMEOUT", cfg.ProviderTimeout)

	if !strings.HasPrefix(cfg.DashboardPath, "/") {
		cfg.DashboardPath = "/" + cfg.DashboardPath
	}
	return cfg
}

func (c Config) Validate() error {
	var result *multierror.Error

	u, err := url.Parse(c.FrontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("frontend url %q must be absolute", c.FrontendURL))
	}
	if c.LogoutMode != LogoutJSON && c.LogoutMode != LogoutRedirect {
		result = multierror.Append(result, fmt.Errorf("unknown logout mode %q", c.LogoutMode))
	}
	if c.MaxBodyBytes <= 0 {
		result = multierror.Append(result, fmt.Errorf("max body bytes must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("provider timeout must be positive"))
	}
	return result.ErrorOrNil()
}

func parseLogoutMode(v string) LogoutMode {
	switch LogoutMode(strings.ToLower(strings.TrimSpace(v))) {
	case LogoutRedirect:
		return LogoutRedirect
	default:
		return LogoutJSON
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
