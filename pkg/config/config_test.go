package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"beaconwatch/internal/frame"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
[node]
  log_level = "debug"
  rpc_socket = "/tmp/test.sock"
  history_path = "/tmp/history.db"

[ranging]
  foreground_period = "2s"
  background_period = "30s"
  expiry_window = "12s"
  background = true

  [[ranging.layouts]]
    name = "ibeacon"
    expression = "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24"

  [ranging.region]
    name = "lobby"
    identifiers = ["2f234454-cf6d-4a0f-adf2-f4911ba9ffa6", "*", "7"]

[scanner]
  disabled = true

[relay]
  listen = true
  port = 6000
  shared_secret = "my-secret"
  max_age = "5s"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Node.LogLevel != "debug" {
		t.Errorf("Node.LogLevel: got %s, want debug", cfg.Node.LogLevel)
	}
	if cfg.Node.HistoryPath != "/tmp/history.db" {
		t.Errorf("Node.HistoryPath: got %s, want /tmp/history.db", cfg.Node.HistoryPath)
	}
	if !cfg.Ranging.Background {
		t.Error("Ranging.Background: got false, want true")
	}
	if len(cfg.Ranging.Layouts) != 1 || cfg.Ranging.Layouts[0].Name != "ibeacon" {
		t.Errorf("Ranging.Layouts: got %+v", cfg.Ranging.Layouts)
	}
	if cfg.Ranging.Region.Name != "lobby" || len(cfg.Ranging.Region.Identifiers) != 3 {
		t.Errorf("Ranging.Region: got %+v", cfg.Ranging.Region)
	}
	if !cfg.Scanner.Disabled {
		t.Error("Scanner.Disabled: got false, want true")
	}
	if !cfg.Relay.Listen || cfg.Relay.Port != 6000 {
		t.Errorf("Relay: got listen=%v port=%d", cfg.Relay.Listen, cfg.Relay.Port)
	}
	if cfg.Relay.SharedSecret != "my-secret" {
		t.Errorf("Relay.SharedSecret: got %s, want my-secret", cfg.Relay.SharedSecret)
	}

	expiry, err := cfg.Ranging.ParseExpiryWindow()
	if err != nil || expiry != 12*time.Second {
		t.Errorf("ExpiryWindow: got %v (%v), want 12s", expiry, err)
	}
	region := cfg.Ranging.RangingRegion()
	if region.Identifiers[1] != "*" {
		t.Errorf("Region identifier: got %s, want *", region.Identifiers[1])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfgPath := writeConfig(t, `
[relay]
  shared_secret = "test"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Node.LogLevel != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Node.LogLevel)
	}
	if cfg.Node.RPCSocket != "/run/beaconwatch/node.sock" {
		t.Errorf("default RPCSocket: got %s", cfg.Node.RPCSocket)
	}
	if cfg.Ranging.ForegroundPeriod != "1.1s" {
		t.Errorf("default ForegroundPeriod: got %s, want 1.1s", cfg.Ranging.ForegroundPeriod)
	}
	if cfg.Ranging.BackgroundPeriod != "10s" {
		t.Errorf("default BackgroundPeriod: got %s, want 10s", cfg.Ranging.BackgroundPeriod)
	}
	if cfg.Relay.Port != 5679 {
		t.Errorf("default Port: got %d, want 5679", cfg.Relay.Port)
	}
	if cfg.Relay.MulticastGroup != "239.255.0.2" {
		t.Errorf("default MulticastGroup: got %s", cfg.Relay.MulticastGroup)
	}

	layouts, err := cfg.Ranging.ParseLayouts()
	if err != nil {
		t.Fatalf("parse layouts: %v", err)
	}
	if len(layouts) != 2 {
		t.Fatalf("default layouts: got %d, want 2", len(layouts))
	}
	if layouts[0].Tag != "5203" || layouts[1].Tag != "ibeacon" {
		t.Errorf("layout order: got %s, %s", layouts[0].Tag, layouts[1].Tag)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid [[[ toml"))
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestParseLayouts_Invalid(t *testing.T) {
	r := &RangingConfig{Layouts: []LayoutConfig{{Name: "broken", Expression: "m:2-3=0215,i:4-19"}}}
	_, err := r.ParseLayouts()
	if !errors.Is(err, frame.ErrInvalidLayout) {
		t.Errorf("expected ErrInvalidLayout, got %v", err)
	}
}

func TestParsePeriods_Default(t *testing.T) {
	r := &RangingConfig{}
	fg, err := r.ParseForegroundPeriod()
	if err != nil || fg != 1100*time.Millisecond {
		t.Errorf("Foreground: got %v (%v), want 1.1s", fg, err)
	}
	bg, err := r.ParseBackgroundPeriod()
	if err != nil || bg != 10*time.Second {
		t.Errorf("Background: got %v (%v), want 10s", bg, err)
	}
	expiry, err := r.ParseExpiryWindow()
	if err != nil || expiry != 0 {
		t.Errorf("Expiry: got %v (%v), want 0", expiry, err)
	}
}

func TestParsePeriods_Invalid(t *testing.T) {
	for _, value := range []string{"soon", "0s", "-1s"} {
		r := &RangingConfig{ForegroundPeriod: value}
		if _, err := r.ParseForegroundPeriod(); err == nil {
			t.Errorf("expected error for %q", value)
		}
	}
}

func TestRelayDurations(t *testing.T) {
	r := &RelayConfig{FlushInterval: "250ms"}
	d, err := r.ParseFlushInterval()
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("FlushInterval: got %v (%v), want 250ms", d, err)
	}
	age, err := r.ParseMaxAge()
	if err != nil || age != 30*time.Second {
		t.Errorf("MaxAge: got %v (%v), want 30s", age, err)
	}
}

func TestCheckSecret(t *testing.T) {
	for _, secret := range []string{"", "CHANGE_ME"} {
		r := &RelayConfig{SharedSecret: secret}
		if err := r.CheckSecret(); err == nil {
			t.Errorf("expected error for secret %q", secret)
		}
	}
	r := &RelayConfig{SharedSecret: "s3cret"}
	if err := r.CheckSecret(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
