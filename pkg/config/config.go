// Package config provides TOML configuration loading for beaconwatch.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"beaconwatch/internal/frame"
	"beaconwatch/internal/ranging"
)

// Default layouts, matched in this order when none are configured.
const (
	Layout5203    = "m:2-3=5203,i:4-19,i:20-21,i:22-23,p:24-24"
	LayoutIBeacon = "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24"
)

// Config is the top-level configuration structure.
type Config struct {
	Node    NodeConfig    `toml:"node"`
	Ranging RangingConfig `toml:"ranging"`
	Scanner ScannerConfig `toml:"scanner"`
	Relay   RelayConfig   `toml:"relay"`
}

// NodeConfig holds settings for the ranging node process.
type NodeConfig struct {
	LogLevel       string `toml:"log_level"`
	RPCSocket      string `toml:"rpc_socket"`
	HistoryPath    string `toml:"history_path"`
	DisableHistory bool   `toml:"disable_history"`
}

// RangingConfig holds the ranging session settings.
type RangingConfig struct {
	Layouts          []LayoutConfig `toml:"layouts"`
	ForegroundPeriod string         `toml:"foreground_period"`
	BackgroundPeriod string         `toml:"background_period"`
	// ExpiryWindow is derived from the active period when empty.
	ExpiryWindow string       `toml:"expiry_window"`
	Background   bool         `toml:"background"`
	Region       RegionConfig `toml:"region"`
}

// LayoutConfig names one beacon layout expression.
type LayoutConfig struct {
	Name       string `toml:"name"`
	Expression string `toml:"expression"`
}

// RegionConfig restricts ranging to matching identifiers.
type RegionConfig struct {
	Name        string   `toml:"name"`
	Identifiers []string `toml:"identifiers"`
}

// ScannerConfig holds settings for the local BLE adapter.
type ScannerConfig struct {
	Disabled bool `toml:"disabled"`
}

// RelayConfig holds settings shared by relay senders and listening nodes.
type RelayConfig struct {
	// Listen makes a node accept relayed frames.
	Listen           bool    `toml:"listen"`
	Interface        string  `toml:"interface"`
	MulticastGroup   string  `toml:"multicast_group"`
	NodeAddress      string  `toml:"node_address"`
	Port             int     `toml:"port"`
	SharedSecret     string  `toml:"shared_secret"`
	FlushInterval    string  `toml:"flush_interval"`
	MaxBatch         int     `toml:"max_batch"`
	MaxAge           string  `toml:"max_age"`
	PacketsPerSecond float64 `toml:"packets_per_second"`
	Burst            int     `toml:"burst"`
}

// ParseForegroundPeriod parses the foreground cycle period.
func (r *RangingConfig) ParseForegroundPeriod() (time.Duration, error) {
	if r.ForegroundPeriod == "" {
		return 1100 * time.Millisecond, nil
	}
	return parsePositive("foreground_period", r.ForegroundPeriod)
}

// ParseBackgroundPeriod parses the background cycle period.
func (r *RangingConfig) ParseBackgroundPeriod() (time.Duration, error) {
	if r.BackgroundPeriod == "" {
		return 10 * time.Second, nil
	}
	return parsePositive("background_period", r.BackgroundPeriod)
}

// ParseExpiryWindow parses the expiry window; zero means derived.
func (r *RangingConfig) ParseExpiryWindow() (time.Duration, error) {
	if r.ExpiryWindow == "" {
		return 0, nil
	}
	return parsePositive("expiry_window", r.ExpiryWindow)
}

// ParseLayouts compiles the configured layouts in order.
func (r *RangingConfig) ParseLayouts() ([]*frame.Layout, error) {
	layouts := make([]*frame.Layout, 0, len(r.Layouts))
	for i, lc := range r.Layouts {
		l, err := frame.ParseLayout(lc.Name, lc.Expression)
		if err != nil {
			return nil, fmt.Errorf("layout %d (%s): %w", i, lc.Name, err)
		}
		layouts = append(layouts, l)
	}
	return layouts, nil
}

// RangingRegion converts the region section.
func (r *RangingConfig) RangingRegion() ranging.Region {
	return ranging.Region{
		Name:        r.Region.Name,
		Identifiers: append([]string(nil), r.Region.Identifiers...),
	}
}

// ParseFlushInterval parses the relay flush interval.
func (r *RelayConfig) ParseFlushInterval() (time.Duration, error) {
	if r.FlushInterval == "" {
		return 500 * time.Millisecond, nil
	}
	return parsePositive("flush_interval", r.FlushInterval)
}

// ParseMaxAge parses the maximum accepted relay batch age.
func (r *RelayConfig) ParseMaxAge() (time.Duration, error) {
	if r.MaxAge == "" {
		return 30 * time.Second, nil
	}
	return parsePositive("max_age", r.MaxAge)
}

// CheckSecret rejects an unset or placeholder shared secret.
func (r *RelayConfig) CheckSecret() error {
	if r.SharedSecret == "" || r.SharedSecret == "CHANGE_ME" {
		return fmt.Errorf("relay.shared_secret must be set in config (not 'CHANGE_ME')")
	}
	return nil
}

func parsePositive(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Node.HistoryPath = ExpandPath(cfg.Node.HistoryPath)
	cfg.Node.RPCSocket = ExpandPath(cfg.Node.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Node defaults
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}
	if cfg.Node.RPCSocket == "" {
		cfg.Node.RPCSocket = "/run/beaconwatch/node.sock"
	}
	if cfg.Node.HistoryPath == "" {
		cfg.Node.HistoryPath = "/var/lib/beaconwatch/history.db"
	}

	// Ranging defaults
	if len(cfg.Ranging.Layouts) == 0 {
		cfg.Ranging.Layouts = []LayoutConfig{
			{Name: "5203", Expression: Layout5203},
			{Name: "ibeacon", Expression: LayoutIBeacon},
		}
	}
	if cfg.Ranging.ForegroundPeriod == "" {
		cfg.Ranging.ForegroundPeriod = "1.1s"
	}
	if cfg.Ranging.BackgroundPeriod == "" {
		cfg.Ranging.BackgroundPeriod = "10s"
	}

	// Relay defaults
	if cfg.Relay.MulticastGroup == "" {
		cfg.Relay.MulticastGroup = "239.255.0.2"
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 5679
	}
	if cfg.Relay.FlushInterval == "" {
		cfg.Relay.FlushInterval = "500ms"
	}
	if cfg.Relay.MaxBatch == 0 {
		cfg.Relay.MaxBatch = 32
	}
	if cfg.Relay.MaxAge == "" {
		cfg.Relay.MaxAge = "30s"
	}
	if cfg.Relay.PacketsPerSecond == 0 {
		cfg.Relay.PacketsPerSecond = 20
	}
	if cfg.Relay.Burst == 0 {
		cfg.Relay.Burst = 40
	}
}
