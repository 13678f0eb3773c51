package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"portalcal/internal/reconcile"
	"portalcal/internal/store"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PORTALCAL_BACKEND_BASE_URL or PORTALCAL_POLL_INTERVAL.
const EnvPrefix = "PORTALCAL"

// BackendConfig locates the portal's key-value backend.
type BackendConfig struct {
	BaseURL           string `yaml:"base_url" json:"base_url" split_words:"true"`
	Token             string `yaml:"token,omitempty" json:"-" split_words:"true"`
	EventsPath        string `yaml:"events_path" json:"events_path" split_words:"true"`
	AnnouncementsPath string `yaml:"announcements_path" json:"announcements_path" split_words:"true"`
}

// StoreConfig selects where snapshots are persisted.
type StoreConfig struct {
	// Driver is "file" (one JSON document per key under Path) or "sqlite"
	// (a single database file at Path).
	Driver string `yaml:"driver" json:"driver" split_words:"true"`
	Path   string `yaml:"path" json:"path" split_words:"true"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" split_words:"true"`

	Backend BackendConfig `yaml:"backend" json:"backend" split_words:"true"`
	Store   StoreConfig   `yaml:"store" json:"store" split_words:"true"`

	// PollInterval is the sync poller period while a student session
	// is active.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" split_words:"true"`
	// FetchTimeout bounds one fetch including retries.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" split_words:"true"`
	// TombstoneTTL is how long a locally deleted event id keeps hiding its
	// linked announcement.
	TombstoneTTL time.Duration `yaml:"tombstone_ttl" json:"tombstone_ttl" split_words:"true"`

	// Timezone is the IANA timezone event dates are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone" split_words:"true"`

	// ChangeDetection is "ordered" (default) or "membership".
	ChangeDetection string `yaml:"change_detection" json:"change_detection" split_words:"true"`

	// HorizonDays is the default agenda window.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" split_words:"true"`

	LogLevel  string `yaml:"log_level" json:"log_level" split_words:"true"`
	LogFormat string `yaml:"log_format" json:"log_format" split_words:"true"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" ignored:"true"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Backend: BackendConfig{
			BaseURL:           "http://127.0.0.1:9000/kv",
			EventsPath:        "/events",
			AnnouncementsPath: "/announcements",
		},
		Store: StoreConfig{
			Driver: store.DriverFile,
			Path:   "./var/portalcal",
		},
		PollInterval:    30 * time.Second,
		FetchTimeout:    10 * time.Second,
		TombstoneTTL:    24 * time.Hour,
		Timezone:        "UTC",
		ChangeDetection: reconcile.StrategyOrdered,
		HorizonDays:     7,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Backend.EventsPath == "" {
		c.Backend.EventsPath = def.Backend.EventsPath
	}
	if c.Backend.AnnouncementsPath == "" {
		c.Backend.AnnouncementsPath = def.Backend.AnnouncementsPath
	}
	switch c.Store.Driver {
	case store.DriverFile, store.DriverSQLite:
	default:
		c.Store.Driver = store.DriverFile
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	// Poll intervals under a second would be rounded up by the scheduler.
	if c.PollInterval < time.Second {
		c.PollInterval = def.PollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = def.TombstoneTTL
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.ChangeDetection {
	case reconcile.StrategyOrdered, reconcile.StrategyMembership:
	default:
		c.ChangeDetection = reconcile.StrategyOrdered
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = def.LogFormat
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("config: backend.base_url is empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
//   - PORTALCAL_* environment variables then override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv overrides cfg with any PORTALCAL_* variables that are set.
// Unset variables leave the current values alone.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	return nil
}

// Save writes the given configuration to the specified path atomically via
// a temp file + rename, with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".portalcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
