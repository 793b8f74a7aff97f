// Package config resolves the client configuration from built-in defaults,
// an optional YAML file, and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FallbackTrackingID is used when no tracking id is configured anywhere.
const FallbackTrackingID = "G-1RBGXM1DY8"

// Config is the client configuration.
type Config struct {
	TrackingID    string        `yaml:"tracking_id" env:"GA_TRACKING_ID"`
	ScriptBase    string        `yaml:"script_base" env:"GTAG_SCRIPT_BASE"`
	CollectURL    string        `yaml:"collect_url" env:"GTAG_COLLECT_URL"`
	LoadTimeout   time.Duration `yaml:"load_timeout" env:"GTAG_LOAD_TIMEOUT"`
	SettleDelay   time.Duration `yaml:"settle_delay" env:"GTAG_SETTLE_DELAY"`
	Origin        string        `yaml:"origin" env:"GTAG_ORIGIN"`
	DebugMode     bool          `yaml:"debug_mode" env:"GTAG_DEBUG_MODE"`
	CookieDomain  string        `yaml:"cookie_domain" env:"GTAG_COOKIE_DOMAIN"`
	CookieFlags   string        `yaml:"cookie_flags" env:"GTAG_COOKIE_FLAGS"`
	CookieExpires time.Duration `yaml:"cookie_expires" env:"GTAG_COOKIE_EXPIRES"`
	ReplayPending bool          `yaml:"replay_pending" env:"GTAG_REPLAY_PENDING"`
	SmokeEvent    bool          `yaml:"smoke_event" env:"GTAG_SMOKE_EVENT"`
	Verbose       bool          `yaml:"verbose" env:"GTAG_VERBOSE"`
}

// legacyEnv holds the tracking id variable name inherited from the web app.
type legacyEnv struct {
	TrackingID string `env:"NEXT_PUBLIC_GA_ID"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ScriptBase:    "https://www.googletagmanager.com",
		LoadTimeout:   10 * time.Second,
		DebugMode:     true,
		CookieDomain:  "auto",
		CookieFlags:   "SameSite=None;Secure",
		CookieExpires: 28 * 24 * time.Hour,
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path or a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.TrackingID == "" {
		cfg.TrackingID = FallbackTrackingID
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	return Load("")
}

func applyEnv(cfg *Config) error {
	var legacy legacyEnv
	if err := env.Parse(&legacy); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if legacy.TrackingID != "" {
		cfg.TrackingID = legacy.TrackingID
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
