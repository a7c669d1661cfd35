// Package config loads environment-based configuration for the portal
// session manager. Both portal variants (admin console and coach/parent
// portal) run the same code; the variant selects the authorization
// predicate and token-duration ceiling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Variant identifies which portal this process serves.
type Variant string

const (
	VariantAdmin Variant = "admin"
	VariantCoach Variant = "coach"
)

// Config holds all environment-based configuration for portal-session.
type Config struct {
	// Portal variant: "admin" or "coach".
	Variant string `env:"PORTAL_VARIANT" envDefault:"coach"`

	// Endpoint bases. AuthBaseURL hosts the magic-link/verify/refresh
	// endpoints; ResourceBaseURL hosts the health probe.
	AuthBaseURL     string `env:"AUTH_BASE_URL"`
	ResourceBaseURL string `env:"RESOURCE_BASE_URL"`

	// AllowedEmails is a comma-separated allow-list (admin variant).
	AllowedEmails []string `env:"ALLOWED_EMAILS" envSeparator:","`

	// AllowedDomains is a comma-separated list of permitted email
	// domain suffixes (coach variant), e.g. "rosterhq.com".
	AllowedDomains []string `env:"ALLOWED_DOMAINS" envSeparator:","`

	// MaxTokenDuration is the hard ceiling on any server-issued token
	// lifetime. Server values above this are capped.
	MaxTokenDuration time.Duration `env:"MAX_TOKEN_DURATION" envDefault:"24h"`

	// RefreshBuffer is how long before expiry a proactive refresh fires.
	RefreshBuffer time.Duration `env:"REFRESH_BUFFER" envDefault:"15m"`

	// MinRefreshInterval is the minimum spacing between any two refresh
	// attempts, regardless of trigger source.
	MinRefreshInterval time.Duration `env:"MIN_REFRESH_INTERVAL" envDefault:"30m"`

	// RetryDelay is the fixed delay before retrying a refresh that
	// failed for a transient (network/timeout) reason.
	RetryDelay time.Duration `env:"REFRESH_RETRY_DELAY" envDefault:"1m"`

	// RevalidateInterval is how often the background liveness probe runs.
	RevalidateInterval time.Duration `env:"REVALIDATE_INTERVAL" envDefault:"10m"`

	// NetworkTimeout applies to every auth network call.
	NetworkTimeout time.Duration `env:"NETWORK_TIMEOUT" envDefault:"10s"`

	// StatePath is the session state database file. Defaults to
	// ~/.portal-session/state.db.
	StatePath string `env:"STATE_PATH"`

	// StorageSecret keys the at-rest obfuscation transform. Not a
	// cryptographic boundary; see kvstore docs.
	StorageSecret string `env:"STORAGE_SECRET" envDefault:"rosterhq-portal"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir for state path: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".portal-session", "state.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch Variant(c.Variant) {
	case VariantAdmin, VariantCoach:
	default:
		return fmt.Errorf("PORTAL_VARIANT must be %q or %q, got %q", VariantAdmin, VariantCoach, c.Variant)
	}

	if c.AuthBaseURL == "" {
		return fmt.Errorf("AUTH_BASE_URL is required")
	}
	if c.ResourceBaseURL == "" {
		return fmt.Errorf("RESOURCE_BASE_URL is required")
	}
	if c.RefreshBuffer <= 0 || c.RefreshBuffer >= c.MaxTokenDuration {
		return fmt.Errorf("REFRESH_BUFFER must be positive and below MAX_TOKEN_DURATION")
	}

	return nil
}

// Authorize returns the email authorization predicate for the configured
// variant. The admin variant requires allow-list membership; the coach
// variant accepts any allow-listed address or allowed domain, and when no
// restriction is configured, any well-formed address.
func (c *Config) Authorize() func(email string) bool {
	allowed := make(map[string]struct{}, len(c.AllowedEmails))
	for _, e := range c.AllowedEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			allowed[e] = struct{}{}
		}
	}

	domains := make([]string, 0, len(c.AllowedDomains))
	for _, d := range c.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}

	variant := Variant(c.Variant)

	return func(email string) bool {
		email = strings.ToLower(strings.TrimSpace(email))
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return false
		}

		if _, ok := allowed[email]; ok {
			return true
		}

		if variant == VariantAdmin {
			// Admins are allow-list only.
			return false
		}

		if len(domains) == 0 {
			return len(allowed) == 0
		}
		domain := email[at+1:]
		for _, d := range domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return true
			}
		}
		return false
	}
}
