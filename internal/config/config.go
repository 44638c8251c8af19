// Package config resolves the itwillsync configuration directory and loads
// the user configuration file. The directory is ~/.itwillsync by default and
// can be overridden with the ITWILLSYNC_CONFIG_DIR environment variable.
// The same directory holds the hub state files (hub.json, hub.pid) and the
// session history database.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigDir is the environment variable that overrides the config
// directory location.
const EnvConfigDir = "ITWILLSYNC_CONFIG_DIR"

// NetworkingMode selects how session and dashboard URLs are derived.
type NetworkingMode string

const (
	// ModeLocal serves on the LAN interface address.
	ModeLocal NetworkingMode = "local"

	// ModeTailscale serves on the tailnet address so any device on the
	// user's overlay network can reach the dashboard.
	ModeTailscale NetworkingMode = "tailscale"
)

// Config is the persisted user configuration (config.json).
type Config struct {
	// NetworkingMode is "local" or "tailscale". Anything else (or a missing
	// or unparsable file) is treated as "local".
	NetworkingMode NetworkingMode `json:"networkingMode"`
}

// Dir returns the configuration directory: $ITWILLSYNC_CONFIG_DIR if set,
// else ~/.itwillsync. The directory is not created here; writers create it
// on first use.
func Dir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".itwillsync"), nil
}

// Path returns the location of config.json inside the config directory.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads config.json from the config directory. A missing file or
// invalid JSON yields the default configuration (networkingMode=local)
// rather than an error: the tool must always be able to start.
func Load() *Config {
	cfg := &Config{NetworkingMode: ModeLocal}

	path, err := Path()
	if err != nil {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return cfg
	}

	if loaded.NetworkingMode == ModeTailscale {
		cfg.NetworkingMode = ModeTailscale
	}
	return cfg
}

// Save writes config.json, creating the config directory if needed.
// The directory is 0700 and the file 0600: it sits next to token material.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}
	return nil
}
