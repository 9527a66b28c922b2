package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		LocalNumber:    "+15550300",
		RefreshSeeds:   []string{"+15550100"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.LocalNumber != "+15550300" {
		t.Errorf("LocalNumber = %q, want +15550300", loaded.LocalNumber)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(`local_number = "555-0300"`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CountryPrefix != "+1" {
		t.Errorf("CountryPrefix = %q, want default +1", cfg.CountryPrefix)
	}
	if cfg.RefreshInterval.Duration != 6*time.Hour {
		t.Errorf("RefreshInterval = %v, want default 6h", cfg.RefreshInterval.Duration)
	}
	if cfg.Lookup.Timeout.Duration != 30*time.Second {
		t.Errorf("Lookup.Timeout = %v, want default 30s", cfg.Lookup.Timeout.Duration)
	}
}

func TestDurationDecoding(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	content := `
local_number = "+15550300"
refresh_interval = "45m"

[lookup]
timeout = "5s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RefreshInterval.Duration != 45*time.Minute {
		t.Errorf("RefreshInterval = %v, want 45m", cfg.RefreshInterval.Duration)
	}
	if cfg.Lookup.Timeout.Duration != 5*time.Second {
		t.Errorf("Lookup.Timeout = %v, want 5s", cfg.Lookup.Timeout.Duration)
	}
}

func TestValidateCanonicalizes(t *testing.T) {
	cfg := &Config{
		LocalNumber:  "555-0300",
		RefreshSeeds: []string{"(555) 010-0"},
		Blacklist:    []string{"555 0200"},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.LocalNumber != "+15550300" {
		t.Errorf("LocalNumber = %q, want +15550300", cfg.LocalNumber)
	}
	if cfg.RefreshSeeds[0] != "+15550100" {
		t.Errorf("RefreshSeeds[0] = %q, want +15550100", cfg.RefreshSeeds[0])
	}
	if cfg.Blacklist[0] != "+15550200" {
		t.Errorf("Blacklist[0] = %q, want +15550200", cfg.Blacklist[0])
	}
}

func TestValidateRejectsMissingLocalNumber(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for empty local_number")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{LocalNumber: "+15550300"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
