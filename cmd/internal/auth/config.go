package auth

import (
	"os"
	"strings"
	"time"
)

// Config controls access-token verification (and, when a secret key is present,
// minting for dev tooling and tests).
type Config struct {
	// Issuer must match the "iss" claim.
	Issuer string

	// ClockSkew is tolerated when validating nbf/exp.
	ClockSkew time.Duration

	// AccessTokenTTL is the lifetime of tokens minted by Issue.
	AccessTokenTTL time.Duration

	// PublicKeyHex is the hex Ed25519 public key used for verification.
	PublicKeyHex string

	// SecretKeyHex, when set, enables Issue. The public key is derived from it
	// unless PublicKeyHex is also set.
	SecretKeyHex string
}

// DefaultConfig returns defaults without keys.
func DefaultConfig() Config {
	return Config{
		Issuer:         "crpg",
		ClockSkew:      30 * time.Second,
		AccessTokenTTL: 15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// One of these is required:
//   - CRPG_AUTH_PUBLIC_KEY_HEX
//   - CRPG_AUTH_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - CRPG_AUTH_ISSUER
//   - CRPG_AUTH_CLOCK_SKEW
//   - CRPG_AUTH_ACCESS_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CRPG_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("CRPG_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("CRPG_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	cfg.PublicKeyHex = strings.TrimSpace(os.Getenv("CRPG_AUTH_PUBLIC_KEY_HEX"))
	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("CRPG_AUTH_SECRET_KEY_HEX"))
	if cfg.PublicKeyHex == "" && cfg.SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
