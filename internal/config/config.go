// Package config loads service settings from defaults, an optional YAML file and
// environment variables, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ortelius/cvefeed-backend/internal/cvesync"
	"github.com/ortelius/cvefeed-backend/internal/nvd"
	"github.com/ortelius/cvefeed-backend/internal/scheduler"
	"github.com/ortelius/cvefeed-backend/util"
	"gopkg.in/yaml.v2"
)

const (
	// DriverArango stores CVEs in ArangoDB
	DriverArango = "arango"
	// DriverMemory keeps CVEs in process memory; development only
	DriverMemory = "memory"
)

// DatabaseConfig selects and configures the CVE store
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// NVDConfig configures the upstream client
type NVDConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PageSize     int           `yaml:"page_size"`
	RequestDelay time.Duration `yaml:"request_delay"` // zero picks a delay from the API key presence
}

// SyncConfig configures the background sync schedule
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Config is the full service configuration
type Config struct {
	Port     string         `yaml:"port"`
	Database DatabaseConfig `yaml:"database"`
	NVD      NVDConfig      `yaml:"nvd"`
	Sync     SyncConfig     `yaml:"sync"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Port: "3000",
		Database: DatabaseConfig{
			Driver:   DriverArango,
			Host:     "localhost",
			Port:     "8529",
			User:     "root",
			Password: "mypassword",
			Name:     "cvefeed",
		},
		NVD: NVDConfig{
			BaseURL:  nvd.DefaultBaseURL,
			PageSize: nvd.MaxResultsPerPage,
		},
		Sync: SyncConfig{
			Interval:      scheduler.DefaultInterval,
			CheckInterval: scheduler.DefaultCheckInterval,
		},
	}
}

// Load builds the configuration. path may be empty, in which case CVEFEED_CONFIG is consulted;
// a missing file is only an error when it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CVEFEED_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case explicit || !os.IsNotExist(err):
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = util.GetEnvDefault("MS_PORT", cfg.Port)

	cfg.Database.Driver = util.GetEnvDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = util.GetEnvDefault("ARANGO_HOST", cfg.Database.Host)
	cfg.Database.Port = util.GetEnvDefault("ARANGO_PORT", cfg.Database.Port)
	cfg.Database.User = util.GetEnvDefault("ARANGO_USER", cfg.Database.User)
	cfg.Database.Password = util.GetEnvDefault("ARANGO_PASS", cfg.Database.Password)
	cfg.Database.Name = util.GetEnvDefault("ARANGO_DATABASE", cfg.Database.Name)
	cfg.Database.URL = util.GetEnvDefault("ARANGO_URL", cfg.Database.URL)
	if cfg.Database.URL == "" {
		cfg.Database.URL = "http://" + cfg.Database.Host + ":" + cfg.Database.Port
	}

	cfg.NVD.BaseURL = util.GetEnvDefault("NVD_API_URL", cfg.NVD.BaseURL)
	cfg.NVD.APIKey = util.GetEnvDefault("NVD_API_KEY", cfg.NVD.APIKey)

	var err error
	if cfg.NVD.PageSize, err = envInt("NVD_PAGE_SIZE", cfg.NVD.PageSize); err != nil {
		return err
	}
	if cfg.NVD.RequestDelay, err = envDuration("NVD_REQUEST_DELAY", cfg.NVD.RequestDelay); err != nil {
		return err
	}
	if cfg.Sync.Interval, err = envDuration("SYNC_INTERVAL", cfg.Sync.Interval); err != nil {
		return err
	}
	if cfg.Sync.CheckInterval, err = envDuration("SYNC_CHECK_INTERVAL", cfg.Sync.CheckInterval); err != nil {
		return err
	}

	switch cfg.Database.Driver {
	case DriverArango, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if cfg.NVD.PageSize < 1 || cfg.NVD.PageSize > nvd.MaxResultsPerPage {
		return fmt.Errorf("nvd page size must be between 1 and %d", nvd.MaxResultsPerPage)
	}
	return nil
}

// RequestDelay returns the configured pause between NVD requests, defaulting by API key presence
func (c Config) RequestDelay() time.Duration {
	if c.NVD.RequestDelay > 0 {
		return c.NVD.RequestDelay
	}
	if c.NVD.APIKey != "" {
		return cvesync.KeyedRequestDelay
	}
	return cvesync.DefaultRequestDelay
}

func envInt(key string, def int) (int, error) {
	raw := util.GetEnvDefault(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := util.GetEnvDefault(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
