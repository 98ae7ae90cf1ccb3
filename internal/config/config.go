// Package config loads and validates the socialsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/njoerd114/socialsync/internal/model"
)

// KnownProviders lists the provider names accepted under "providers".
var KnownProviders = []string{"facebook", "google", "twitter", "vk"}

// Notification backends.
const (
	BackendLog           = "log"
	BackendHomeAssistant = "homeassistant"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// StateDB is the path of the SQLite database holding accounts,
	// profiles, local records, and reconciliation state.
	// Defaults to ~/.local/share/socialsync/state.db.
	StateDB string `yaml:"state_db"`

	// KeystorePath is the YAML secrets file holding static app credentials
	// (client ids, consumer keys). Required.
	KeystorePath string `yaml:"keystore_path"`

	// PollInterval controls how often the daemon triggers every template
	// profile. Minimum 1m, maximum 24h. Defaults to 30m.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RequestTimeout is the default per-request deadline. Minimum 5s,
	// maximum 10m. Defaults to 60s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Providers configures each provider by name. A provider that is
	// absent or has enabled: false is not synced.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Notifications selects where notification banners are published.
	Notifications NotificationsConfig `yaml:"notifications"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ProviderConfig holds per-provider tuning.
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	// DataTypes restricts the data types synced for this provider. Empty
	// means every data type the provider supports.
	DataTypes []string `yaml:"data_types,omitempty"`

	// RequestTimeout overrides the global request timeout.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// PageSize is passed to paged endpoints. Zero uses the provider default.
	PageSize int `yaml:"page_size,omitempty"`

	// SinceDays bounds time-windowed feeds. Defaults to 7.
	SinceDays int `yaml:"since_days,omitempty"`

	// BaseURL overrides the provider API root. Intended for testing
	// against a local mock server.
	BaseURL string `yaml:"base_url,omitempty"`
}

// NotificationsConfig selects the notification publisher.
type NotificationsConfig struct {
	// Backend is "log" (default) or "homeassistant".
	Backend string `yaml:"backend"`

	// HAURL is the base URL of the Home Assistant instance when Backend is
	// "homeassistant".
	HAURL string `yaml:"ha_url,omitempty"`

	// HAToken is the long-lived Home Assistant access token.
	HAToken string `yaml:"ha_token,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "socialsync".
	ServiceName string `yaml:"service_name"`

	// Headers is sent as gRPC metadata on every OTLP request.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/socialsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "socialsync", "config.yaml"), nil
}

// DefaultStateDBPath returns ~/.local/share/socialsync/state.db.
func DefaultStateDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "socialsync", "state.db"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write saves c as YAML at path, creating parent directories. The file
// holds the Home Assistant token and is written with mode 0600.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// Provider returns the configuration for name and whether it is enabled.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	pc, ok := c.Providers[name]
	return pc, ok && pc.Enabled
}

// TimeoutFor returns the effective request timeout for a provider.
func (c *Config) TimeoutFor(name string) time.Duration {
	if pc, ok := c.Providers[name]; ok && pc.RequestTimeout > 0 {
		return pc.RequestTimeout
	}
	return c.RequestTimeout
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.StateDB == "" {
		p, err := DefaultStateDBPath()
		if err != nil {
			return err
		}
		c.StateDB = p
	}

	if c.KeystorePath == "" {
		return fmt.Errorf("keystore_path is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if err := checkTimeout("request_timeout", c.RequestTimeout); err != nil {
		return err
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("providers must contain at least one entry")
	}
	for name, pc := range c.Providers {
		if !slices.Contains(KnownProviders, name) {
			return fmt.Errorf("providers contains unknown provider %q (known: %v)", name, KnownProviders)
		}
		if pc.RequestTimeout != 0 {
			if err := checkTimeout(fmt.Sprintf("providers[%q].request_timeout", name), pc.RequestTimeout); err != nil {
				return err
			}
		}
		for _, dt := range pc.DataTypes {
			if !model.DataType(dt).Valid() {
				return fmt.Errorf("providers[%q].data_types contains unknown data type %q", name, dt)
			}
		}
		if pc.PageSize < 0 {
			return fmt.Errorf("providers[%q].page_size must not be negative", name)
		}
		if pc.SinceDays < 0 {
			return fmt.Errorf("providers[%q].since_days must not be negative", name)
		}
		if pc.SinceDays == 0 {
			pc.SinceDays = 7
		}
		if pc.BaseURL != "" {
			if err := checkURL(fmt.Sprintf("providers[%q].base_url", name), pc.BaseURL); err != nil {
				return err
			}
		}
		c.Providers[name] = pc
	}

	switch c.Notifications.Backend {
	case "":
		c.Notifications.Backend = BackendLog
	case BackendLog:
	case BackendHomeAssistant:
		if err := checkURL("notifications.ha_url", c.Notifications.HAURL); err != nil {
			return err
		}
		if c.Notifications.HAToken == "" {
			return fmt.Errorf("notifications.ha_token is required for the homeassistant backend")
		}
	default:
		return fmt.Errorf("notifications.backend %q must be %q or %q", c.Notifications.Backend, BackendLog, BackendHomeAssistant)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func checkTimeout(field string, d time.Duration) error {
	if d < 5*time.Second {
		return fmt.Errorf("%s %v is too short (minimum 5s)", field, d)
	}
	if d > 10*time.Minute {
		return fmt.Errorf("%s %v is too long (maximum 10m)", field, d)
	}
	return nil
}

func checkURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s %q must be a valid http or https URL", field, raw)
	}
	return nil
}
