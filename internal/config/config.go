package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied to unset fields.
const (
	DefaultPageSize      = 15
	DefaultDedupCapacity = 300
	DefaultViewerRole    = "client"
	DefaultMetricsAddr   = "127.0.0.1:9464"
)

// Config represents the global ~/.inboxsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	APIURL         string `toml:"api_url"`
	APIToken       string `toml:"api_token,omitempty"`
	PushURL        string `toml:"push_url"`
	ViewerRole     string `toml:"viewer_role"`
	SelfID         string `toml:"self_id"`
	PageSize       int    `toml:"page_size"`
	DedupCapacity  int    `toml:"dedup_capacity"`
	MetricsAddr    string `toml:"metrics_addr"`
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

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	return cfg, err
}

// Validate reports missing settings required to run the sync core.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.PushURL == "" {
		errs = append(errs, errors.New("push_url is required"))
	}
	if c.SelfID == "" {
		errs = append(errs, errors.New("self_id is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
	if c.ViewerRole == "" {
		c.ViewerRole = DefaultViewerRole
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
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
