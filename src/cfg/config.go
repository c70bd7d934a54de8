// Package cfg loads notelink's YAML configuration: the loopback port,
// the per-user application-support directory, and the single-instance
// discovery timing constants. There is no hot reload (Non-goal); the
// file is read once at startup.
package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is notelink's top-level configuration.
type Config struct {
	// ServerName is reported in initialize's serverInfo.name.
	ServerName string `yaml:"server_name"`
	// AppDir is the directory name under the user's application-support
	// path that holds server.json and server.json.launching.
	AppDir string `yaml:"app_dir"`
	// Port is the loopback port the backend listens on; 0 requests
	// kernel allocation.
	Port int `yaml:"port"`
	// PollInterval is how often a StdioProxy re-checks the registry.
	PollInterval time.Duration `yaml:"poll_interval"`
	// DiscoveryTimeout bounds the discovery and launch-lock wait loops.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	// ArtifactMaxAge bounds how long PNG artifacts survive the startup sweep.
	ArtifactMaxAge time.Duration `yaml:"artifact_max_age"`
}

// yamlConfig mirrors Config but carries durations as human strings
// (e.g. "250ms") since yaml.v3 has no native time.Duration support.
type yamlConfig struct {
	ServerName       string `yaml:"server_name"`
	AppDir           string `yaml:"app_dir"`
	Port             int    `yaml:"port"`
	PollInterval     string `yaml:"poll_interval"`
	DiscoveryTimeout string `yaml:"discovery_timeout"`
	ArtifactMaxAge   string `yaml:"artifact_max_age"`
}

// MarshalYAML implements yaml.Marshaler.
func (c Config) MarshalYAML() (interface{}, error) {
	return yamlConfig{
		ServerName:       c.ServerName,
		AppDir:           c.AppDir,
		Port:             c.Port,
		PollInterval:     c.PollInterval.String(),
		DiscoveryTimeout: c.DiscoveryTimeout.String(),
		ArtifactMaxAge:   c.ArtifactMaxAge.String(),
	}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler, parsing duration fields
// with time.ParseDuration and leaving them at zero when absent.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var y yamlConfig
	if err := unmarshal(&y); err != nil {
		return err
	}
	c.ServerName = y.ServerName
	c.AppDir = y.AppDir
	c.Port = y.Port
	var err error
	if y.PollInterval != "" {
		if c.PollInterval, err = time.ParseDuration(y.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval %q: %w", y.PollInterval, err)
		}
	}
	if y.DiscoveryTimeout != "" {
		if c.DiscoveryTimeout, err = time.ParseDuration(y.DiscoveryTimeout); err != nil {
			return fmt.Errorf("invalid discovery_timeout %q: %w", y.DiscoveryTimeout, err)
		}
	}
	if y.ArtifactMaxAge != "" {
		if c.ArtifactMaxAge, err = time.ParseDuration(y.ArtifactMaxAge); err != nil {
			return fmt.Errorf("invalid artifact_max_age %q: %w", y.ArtifactMaxAge, err)
		}
	}
	return nil
}

const (
	defaultServerName       = "notelink"
	defaultAppDir           = "notelink"
	defaultPort             = 27272
	defaultPollInterval     = 250 * time.Millisecond
	defaultDiscoveryTimeout = 15 * time.Second
	defaultArtifactMaxAge   = 24 * time.Hour
)

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		ServerName:       defaultServerName,
		AppDir:           defaultAppDir,
		Port:             defaultPort,
		PollInterval:     defaultPollInterval,
		DiscoveryTimeout: defaultDiscoveryTimeout,
		ArtifactMaxAge:   defaultArtifactMaxAge,
	}
}

// Load reads configPath if it exists and overlays it on Defaults().
// A missing file is not an error: it simply yields the defaults.
func Load(configPath string) (Config, error) {
	cfg := Defaults()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerName == "" {
		c.ServerName = defaultServerName
	}
	if c.AppDir == "" {
		c.AppDir = defaultAppDir
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if c.ArtifactMaxAge == 0 {
		c.ArtifactMaxAge = defaultArtifactMaxAge
	}
}

// Save writes the configuration back to configPath.
func Save(cfg Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// AppSupportDir returns the per-user application-support directory for
// notelink, creating it if necessary (e.g. ~/.local/share/notelink).
func (c Config) AppSupportDir() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(base, ".local", "share", c.AppDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app-support directory: %w", err)
	}
	return dir, nil
}

// DiscoveryPath returns the canonical DiscoveryRecord path,
// <app-support>/<app>/server.json.
func (c Config) DiscoveryPath() (string, error) {
	dir, err := c.AppSupportDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "server.json"), nil
}

// TempDir returns the process-owned temp directory for PNG artifacts,
// creating it if necessary.
func (c Config) TempDir() (string, error) {
	dir, err := c.AppSupportDir()
	if err != nil {
		return "", err
	}
	tmp := filepath.Join(dir, "tmp")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return tmp, nil
}
