package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// StoreKind selects the session Store implementation.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
)

// FallbackSecret is used when SSO_SESSION_SECRET is unset. Never use it in production.
// #nosec G101 -- published development default, flagged at startup.
const FallbackSecret = "insecure-session-secret-change-me"

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Secret seeds the cookie signing key.
	Secret string

	// TTL is the fixed lifetime of a session from creation.
	TTL time.Duration

	Store    StoreKind
	RedisURL string

	// KeyPrefix namespaces redis keys.
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		Secret:    FallbackSecret,
		TTL:       24 * time.Hour,
		Store:     StoreMemory,
		KeyPrefix: defaultRedisPrefix,
	}
}

// UsesFallbackSecret reports whether the insecure development secret is in effect.
func (c Config) UsesFallbackSecret() bool {
	return c.Secret == FallbackSecret
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - SSO_SESSION_SECRET (falls back to an insecure development secret)
//   - SSO_SESSION_TTL (Go duration, default 24h)
//   - SSO_SESSION_STORE (memory|redis, default memory)
//   - SSO_REDIS_URL (required when the store is redis)
//   - SSO_SESSION_REDIS_PREFIX
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SSO_SESSION_SECRET")); v != "" {
		cfg.Secret = v
	}

	if v := strings.TrimSpace(os.Getenv("SSO_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: SSO_SESSION_TTL %q", ErrConfig, v)
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("SSO_SESSION_STORE")); v != "" {
		cfg.Store = StoreKind(strings.ToLower(v))
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("SSO_REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("SSO_SESSION_REDIS_PREFIX")); v != "" {
		cfg.KeyPrefix = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var retErr *multierror.Error

	if strings.TrimSpace(c.Secret) == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: empty secret", ErrConfig))
	}
	if c.TTL <= 0 {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: ttl must be positive", ErrConfig))
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			retErr = multierror.Append(retErr, fmt.Errorf("%w: redis store requires SSO_REDIS_URL", ErrConfig))
		}
	default:
		retErr = multierror.Append(retErr, fmt.Errorf("%w: unknown store %q", ErrConfig, c.Store))
	}

	return retErr.ErrorOrNil()
}
