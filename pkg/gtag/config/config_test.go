package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtag.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "GA_TRACKING_ID", "NEXT_PUBLIC_GA_ID")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrackingID != FallbackTrackingID {
		t.Errorf("expected fallback tracking id, got %q", cfg.TrackingID)
	}
	if cfg.ScriptBase != "https://www.googletagmanager.com" {
		t.Errorf("unexpected script base %q", cfg.ScriptBase)
	}
	if cfg.CookieExpires != 28*24*time.Hour {
		t.Errorf("unexpected cookie lifetime %v", cfg.CookieExpires)
	}
}

func TestLoadMissingFile(t *testing.T) {
	unsetEnv(t, "GTAG_LOAD_TIMEOUT")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
	if cfg.LoadTimeout != 10*time.Second {
		t.Errorf("expected default load timeout, got %v", cfg.LoadTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	unsetEnv(t, "GA_TRACKING_ID", "NEXT_PUBLIC_GA_ID")
	path := writeConfig(t, `
tracking_id: G-FROMFILE
script_base: http://localhost:12115
settle_delay: 250ms
origin: https://portal.example.com
replay_pending: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrackingID != "G-FROMFILE" {
		t.Errorf("expected tracking id from file, got %q", cfg.TrackingID)
	}
	if cfg.SettleDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms settle delay, got %v", cfg.SettleDelay)
	}
	if !cfg.ReplayPending {
		t.Error("expected replay_pending from file")
	}
	if cfg.CookieDomain != "auto" {
		t.Errorf("expected default cookie domain to survive, got %q", cfg.CookieDomain)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	unsetEnv(t, "NEXT_PUBLIC_GA_ID")
	path := writeConfig(t, "tracking_id: G-FROMFILE\nload_timeout: 3s\n")
	t.Setenv("GA_TRACKING_ID", "G-FROMENV")
	t.Setenv("GTAG_LOAD_TIMEOUT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrackingID != "G-FROMENV" {
		t.Errorf("expected env tracking id, got %q", cfg.TrackingID)
	}
	if cfg.LoadTimeout != 5*time.Second {
		t.Errorf("expected env load timeout, got %v", cfg.LoadTimeout)
	}
}

func TestLegacyTrackingIDEnv(t *testing.T) {
	unsetEnv(t, "GA_TRACKING_ID")
	t.Setenv("NEXT_PUBLIC_GA_ID", "G-LEGACY")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrackingID != "G-LEGACY" {
		t.Errorf("expected legacy env tracking id, got %q", cfg.TrackingID)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "tracking_id: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("GTAG_SETTLE_DELAY", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected env parse error")
	}
}
