// Package config is the on-disk client configuration: where local state
// lives, who the owner is and how to reach the backend and the local
// control API.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/driftlock/driftsync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".driftsync", "config.json")
	DefaultDataDir    = filepath.Join(home, ".driftsync")
	DefaultServerURL  = "https://api.driftlock.dev"
	DefaultClientURL  = "http://localhost:7938"
)

type Config struct {
	DataDir     string `json:"data_dir"`
	Email       string `json:"email"`
	ServerURL   string `json:"server_url"`
	ClientURL   string `json:"client_url"`
	ClientToken string `json:"client_token,omitempty"`

	// ServerToken is injected from the environment, never persisted.
	ServerToken string `json:"-"`
	Path        string `json:"-"`
}

// Validate normalizes paths and the email and rejects unusable URLs.
func (c *Config) Validate() error {
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}

	c.Email = normalizeEmail(c.Email)
	if err := utils.ValidateEmail(c.Email); err != nil {
		return err
	}

	if err := validateHTTPURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if c.ClientURL == "" {
		c.ClientURL = DefaultClientURL
	}
	if err := validateHTTPURL(c.ClientURL); err != nil {
		return fmt.Errorf("client url: %w", err)
	}
	return nil
}

// Save writes the config to its path, creating parent directories.
func (c *Config) Save() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o644)
}

// DBPath is the sqlite file holding queue, ledger and snapshots.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "driftsync.db")
}

// LogDir is where the rotating client log files go.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
