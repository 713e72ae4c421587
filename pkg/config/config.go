package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.sparky/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8172
// surface:
//   width: 800
//   height: 600
// capture:
//   settle_delay_ms: 200
//   populate_delay_ms: 400
// hotkey:
//   enabled: true
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Surface SurfaceConfig `yaml:"surface"`
	Capture CaptureConfig `yaml:"capture"`
	Hotkey  HotkeyConfig  `yaml:"hotkey"`
	DB      DBConfig      `yaml:"db"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// SurfaceConfig describes the floating surface geometry the activation
// machine uses to position the window relative to the pointer.
type SurfaceConfig struct {
	Width  *int `yaml:"width"`
	Height *int `yaml:"height"`
}

// CaptureConfig tunes the selection capture protocol delays.
type CaptureConfig struct {
	SettleDelayMS   *int `yaml:"settle_delay_ms"`
	PopulateDelayMS *int `yaml:"populate_delay_ms"`
}

type HotkeyConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type DBConfig struct {
	Path *string `yaml:"path"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8172

	DefaultSurfaceWidth  = 800
	DefaultSurfaceHeight = 600

	DefaultSettleDelay   = 200 * time.Millisecond
	DefaultPopulateDelay = 400 * time.Millisecond
)

func (c *AppConfig) Host() string {
	if c.Server.Host != nil && strings.TrimSpace(*c.Server.Host) != "" {
		return *c.Server.Host
	}
	return DefaultHost
}

func (c *AppConfig) Port() int {
	if c.Server.Port != nil {
		return *c.Server.Port
	}
	return DefaultPort
}

func (c *AppConfig) SurfaceWidth() int {
	if c.Surface.Width != nil && *c.Surface.Width > 0 {
		return *c.Surface.Width
	}
	return DefaultSurfaceWidth
}

func (c *AppConfig) SurfaceHeight() int {
	if c.Surface.Height != nil && *c.Surface.Height > 0 {
		return *c.Surface.Height
	}
	return DefaultSurfaceHeight
}

func (c *AppConfig) SettleDelay() time.Duration {
	if c.Capture.SettleDelayMS != nil && *c.Capture.SettleDelayMS >= 0 {
		return time.Duration(*c.Capture.SettleDelayMS) * time.Millisecond
	}
	return DefaultSettleDelay
}

func (c *AppConfig) PopulateDelay() time.Duration {
	if c.Capture.PopulateDelayMS != nil && *c.Capture.PopulateDelayMS >= 0 {
		return time.Duration(*c.Capture.PopulateDelayMS) * time.Millisecond
	}
	return DefaultPopulateDelay
}

func (c *AppConfig) HotkeyEnabled() bool {
	if c.Hotkey.Enabled != nil {
		return *c.Hotkey.Enabled
	}
	return true
}

// DBPath returns the sqlite database file path, defaulting to
// <configDir>/chat_history.db.
func (c *AppConfig) DBPath() (string, error) {
	if c.DB.Path != nil && strings.TrimSpace(*c.DB.Path) != "" {
		return *c.DB.Path, nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "chat_history.db"), nil
}

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".sparky")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.sparky/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:  ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Surface: SurfaceConfig{Width: ptr(DefaultSurfaceWidth), Height: ptr(DefaultSurfaceHeight)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func ptr[T any](v T) *T { return &v }
