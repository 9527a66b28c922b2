package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pushbridge/pushbridge/internal/address"
)

// Duration is a time.Duration that decodes from TOML duration strings
// like "6h" or "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Lookup configures the remote directory lookup service.
type Lookup struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// Config represents the global ~/.pushbridge/config.toml.
type Config struct {
	DefaultProfile  string   `toml:"default_profile"`
	LocalNumber     string   `toml:"local_number"`
	CountryPrefix   string   `toml:"country_prefix"`
	RefreshInterval Duration `toml:"refresh_interval"`
	RefreshSeeds    []string `toml:"refresh_seeds"`
	Blacklist       []string `toml:"blacklist"`
	Lookup          Lookup   `toml:"lookup"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.CountryPrefix == "" {
		c.CountryPrefix = "+1"
	}
	if c.RefreshInterval.Duration == 0 {
		c.RefreshInterval.Duration = 6 * time.Hour
	}
	if c.Lookup.Timeout.Duration == 0 {
		c.Lookup.Timeout.Duration = 30 * time.Second
	}
}

// Validate checks the fields the daemon cannot run without and canonicalizes
// the configured numbers in place.
func (c *Config) Validate() error {
	if c.LocalNumber == "" {
		return fmt.Errorf("local_number is required")
	}
	local, err := address.Canonicalize(c.LocalNumber, c.CountryPrefix)
	if err != nil {
		return fmt.Errorf("local_number %q: %w", c.LocalNumber, err)
	}
	c.LocalNumber = local

	for i, raw := range c.Blacklist {
		canon, err := address.Canonicalize(raw, c.CountryPrefix)
		if err != nil {
			return fmt.Errorf("blacklist entry %q: %w", raw, err)
		}
		c.Blacklist[i] = canon
	}
	for i, raw := range c.RefreshSeeds {
		canon, err := address.Canonicalize(raw, c.CountryPrefix)
		if err != nil {
			return fmt.Errorf("refresh_seeds entry %q: %w", raw, err)
		}
		c.RefreshSeeds[i] = canon
	}
	return nil
}
