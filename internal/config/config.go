// Package config loads and validates the tracksync TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "TRACKSYNC_CONFIG"

// Defaults applied where the file leaves fields unset.
const (
	DefaultFolder            = "My Tracks"
	DefaultBaseURL           = "https://www.googleapis.com/drive/v2"
	defaultUploadConcurrency = 4
)

// Config is the on-disk TOML configuration.
type Config struct {
	Account string     `toml:"account"` // must match the token file's account
	Folder  string     `toml:"folder"`  // remote sync folder title
	BaseURL string     `toml:"base_url"`
	DBPath  string     `toml:"db_path"`
	Token   string     `toml:"token_path"`
	Sync    SyncConfig `toml:"sync"`
}

// SyncConfig gates and tunes the sync engine.
type SyncConfig struct {
	Enabled           bool `toml:"enabled"`
	UploadConcurrency int  `toml:"upload_concurrency"`
}

// DefaultPath returns the config file path: $TRACKSYNC_CONFIG if set,
// otherwise <user config dir>/tracksync/config.toml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user config dir: %w", err)
	}

	return filepath.Join(dir, "tracksync", "config.toml"), nil
}

// Load reads, defaults, and validates the config at path. A missing file
// yields a config with defaults only (account empty — sync will refuse to
// run until one is configured).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	meta, err := toml.DecodeFile(path, cfg)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
		}
	}

	applyDefaults(cfg, filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills unset fields. Relative state paths are anchored at
// the config directory.
func applyDefaults(cfg *Config, configDir string) {
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(configDir, "tracks.db")
	}

	if cfg.Token == "" {
		cfg.Token = filepath.Join(configDir, "token.json")
	}

	if cfg.Sync.UploadConcurrency <= 0 {
		cfg.Sync.UploadConcurrency = defaultUploadConcurrency
	}
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url must not be empty")
	}

	if c.Folder == "" {
		return errors.New("config: folder must not be empty")
	}

	return nil
}
