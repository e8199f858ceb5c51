// Package config loads paperfeed runtime settings from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds runtime settings for the engine and CLI.
type Config struct {
	// Server connection.
	ServerAddress string `toml:"server_address"`
	APIToken      string `toml:"api_token"`

	// Local entry store.
	DownloadRoot string `toml:"download_root"`

	// Listing defaults, read by the core but owned by the user.
	Limit     int    `toml:"limit"`
	Order     string `toml:"order"`
	Direction string `toml:"direction"`

	// Download behavior.
	IncludeImages     bool `toml:"include_images"`
	MarkReadOnOpen    bool `toml:"mark_read_on_open"`
	AutoDeleteOnClose bool `toml:"auto_delete_on_close"`

	// Optional forward proxy applied to every image URL.
	ImageProxyURL   string `toml:"image_proxy_url"`
	ImageProxyToken string `toml:"image_proxy_token"`

	ImageFetchTimeout time.Duration `toml:"image_fetch_timeout"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Limit:             50,
		Order:             "published_at",
		Direction:         "desc",
		IncludeImages:     true,
		ImageFetchTimeout: 30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads the TOML file at path (if it exists), applies PAPERFEED_* env
// overrides, fills defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Config file is optional; env vars may carry everything.
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "paperfeed", "config.toml")
	}
	return "paperfeed.toml"
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PAPERFEED_SERVER_ADDRESS"); v != "" {
		c.ServerAddress = v
	}
	if v := os.Getenv("PAPERFEED_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("PAPERFEED_DOWNLOAD_ROOT"); v != "" {
		c.DownloadRoot = v
	}
	if v := os.Getenv("PAPERFEED_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limit = n
		}
	}
	if v := os.Getenv("PAPERFEED_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) fillDefaults() {
	if c.DownloadRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DownloadRoot = filepath.Join(home, "paperfeed")
		}
	}
	if c.ImageFetchTimeout <= 0 {
		c.ImageFetchTimeout = 30 * time.Second
	}
	if c.Order == "" {
		c.Order = "published_at"
	}
	if c.Direction == "" {
		c.Direction = "desc"
	}
	if c.Limit <= 0 {
		c.Limit = 50
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("server_address is required")
	}
	if strings.HasSuffix(c.ServerAddress, "/") {
		return fmt.Errorf("server_address must not end with '/': %s", c.ServerAddress)
	}
	if c.APIToken == "" {
		return errors.New("api_token is required")
	}
	if c.DownloadRoot == "" {
		return errors.New("download_root is required")
	}
	if c.Direction != "asc" && c.Direction != "desc" {
		return fmt.Errorf("direction must be asc or desc: %s", c.Direction)
	}
	return nil
}

// EnsureDirectories creates the download root if missing.
func (c Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DownloadRoot, 0o755); err != nil {
		return fmt.Errorf("ensure download root: %w", err)
	}
	return nil
}
