package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// APIBase prefixes every auth route, e.g. "/api/v1".
	APIBase     string
	FrontendURL string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// DatabaseURL enables the durable audit sink when set.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// StartupRetry bounds how long Postgres and Redis are retried at boot.
	StartupRetry time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	port := EnvString("PORT", "8080")
	frontend := strings.TrimRight(EnvString("SSO_FRONTEND_URL", "http://localhost:3000"), "/")

	return Config{
		Env: strings.ToLower(EnvString("SSO_ENV", EnvDevelopment)),

		HTTPAddr:  EnvString("SSO_HTTP_ADDR", "0.0.0.0:"+port),
		LogLevel:  EnvString("SSO_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("SSO_LOG_FORMAT", "json")),
		LogColor:  EnvBool("SSO_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("SSO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SSO_HTTP_READ_TIMEOUT", 15*time.Second),
		// Provider round trips happen inside requests; leave headroom over SSO_IDP_TIMEOUT.
		WriteTimeout:    EnvDuration("SSO_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     EnvDuration("SSO_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: EnvDuration("SSO_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("SSO_HTTP_MAX_HEADER_BYTES", 1<<20),

		APIBase:     normalizeBase(EnvString("SSO_API_BASE", "/api/v1")),
		FrontendURL: frontend,

		CORSAllowedOrigins:   EnvCSV("SSO_CORS_ALLOWED_ORIGINS", []string{frontend}),
		CORSAllowCredentials: EnvBool("SSO_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("SSO_CORS_MAX_AGE", 600),

		DatabaseURL: EnvString("SSO_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SSO_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SSO_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("SSO_READINESS_REQUIRE_DB", false),

		StartupRetry: EnvDuration("SSO_STARTUP_RETRY", 15*time.Second),
	}
}

// IsProduction reports whether strict production policy applies.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var retErr *multierror.Error

	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		retErr = multierror.Append(retErr, fmt.Errorf("SSO_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		retErr = multierror.Append(retErr, fmt.Errorf("SSO_LOG_FORMAT must be json or pretty, got %q", c.LogFormat))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("SSO_HTTP_ADDR is empty"))
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("SSO_FRONTEND_URL must be an absolute URL, got %q", c.FrontendURL))
	}
	for _, o := range c.CORSAllowedOrigins {
		if o == "*" {
			if c.CORSAllowCredentials {
				retErr = multierror.Append(retErr, fmt.Errorf("SSO_CORS_ALLOWED_ORIGINS: \"*\" cannot be combined with credentials"))
			}
			continue
		}
		u, err := url.Parse(strings.Replace(o, ":*", "", 1))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			retErr = multierror.Append(retErr, fmt.Errorf("SSO_CORS_ALLOWED_ORIGINS: invalid origin %q", o))
		}
	}

	return retErr.ErrorOrNil()
}

// normalizeBase yields "" or a "/"-prefixed path without a trailing slash.
func normalizeBase(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return "/" + base
}
