// Package config loads and validates certsweep configuration from YAML.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/certsweep/internal/db"
	"github.com/anstrom/certsweep/internal/logging"
)

const (
	// DefaultPort is used when no port, or an invalid one, is supplied.
	DefaultPort = 443

	DefaultTCPTimeout = 500 * time.Millisecond
	DefaultTLSTimeout = 1200 * time.Millisecond

	minAutoConcurrency    = 8
	autoConcurrencyFactor = 4
	maxConcurrency        = 1024

	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete certsweep configuration.
type Config struct {
	Scan     ScanConfig     `yaml:"scan" json:"scan"`
	Lookup   LookupConfig   `yaml:"lookup" json:"lookup"`
	Database db.Config      `yaml:"database" json:"database"`
	API      APIConfig      `yaml:"api" json:"api"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Logging  logging.Config `yaml:"logging" json:"logging"`
}

// ScanConfig holds probe and orchestration settings.
type ScanConfig struct {
	// Port as entered by the operator. Parsed leniently: invalid values fall
	// back to DefaultPort with a warning.
	Port string `yaml:"port" json:"port"`

	// Maximum probes in flight. Zero selects AutoConcurrency().
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Bound on the TCP connect stage
	TCPTimeout time.Duration `yaml:"tcp_timeout" json:"tcp_timeout"`

	// Bound on the TLS handshake and HTTP exchange
	TLSTimeout time.Duration `yaml:"tls_timeout" json:"tls_timeout"`
}

// LookupConfig selects annotation sources for classified addresses.
type LookupConfig struct {
	// YAML file mapping address to annotation
	File string `yaml:"file" json:"file"`

	// Query the hosts inventory table (requires database settings)
	Inventory bool `yaml:"inventory" json:"inventory"`

	// Resolve PTR records
	ReverseDNS bool `yaml:"reverse_dns" json:"reverse_dns"`

	// Resolver address (host:port). Empty uses /etc/resolv.conf.
	DNSServer string `yaml:"dns_server" json:"dns_server"`

	DNSTimeout time.Duration `yaml:"dns_timeout" json:"dns_timeout"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Require X-API-Key or a bearer token matching one of APIKeyHashes
	AuthEnabled  bool     `yaml:"auth_enabled" json:"auth_enabled"`
	APIKeyHashes []string `yaml:"api_key_hashes" json:"-"`

	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ScheduleConfig describes a recurring sweep run by `certsweep serve`.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cron    string `yaml:"cron" json:"cron"`
	Range   string `yaml:"range" json:"range"`
	Port    string `yaml:"port" json:"port"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Port:       fmt.Sprint(DefaultPort),
			TCPTimeout: DefaultTCPTimeout,
			TLSTimeout: DefaultTLSTimeout,
		},
		Lookup: LookupConfig{
			DNSTimeout: 2 * time.Second,
		},
		Database: db.DefaultConfig(),
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Logging: logging.DefaultConfig(),
	}
}

// AutoConcurrency returns max(8, 4 x available CPUs).
func AutoConcurrency() int {
	return max(minAutoConcurrency, autoConcurrencyFactor*runtime.NumCPU())
}

// EffectiveConcurrency resolves a zero or negative setting to AutoConcurrency.
func (s ScanConfig) EffectiveConcurrency() int {
	if s.Concurrency <= 0 {
		return AutoConcurrency()
	}
	return s.Concurrency
}

// Load reads configuration from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks settings that cannot be recovered at runtime.
// The scan port is deliberately not validated here: it degrades to the
// default with a warning when a sweep starts.
func (c *Config) Validate() error {
	if c.Scan.Concurrency < 0 || c.Scan.Concurrency > maxConcurrency {
		return fmt.Errorf("scan concurrency must be between 0 and %d", maxConcurrency)
	}
	if c.Scan.TCPTimeout <= 0 {
		return fmt.Errorf("scan tcp_timeout must be positive")
	}
	if c.Scan.TLSTimeout <= 0 {
		return fmt.Errorf("scan tls_timeout must be positive")
	}

	if c.Lookup.Inventory {
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required for inventory lookups")
		}
		if c.Database.Username == "" {
			return fmt.Errorf("database username is required for inventory lookups")
		}
	}
	if c.Lookup.DNSServer != "" {
		if _, _, err := net.SplitHostPort(c.Lookup.DNSServer); err != nil {
			return fmt.Errorf("lookup dns_server must be host:port: %w", err)
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.AuthEnabled && len(c.API.APIKeyHashes) == 0 {
			return fmt.Errorf("api_key_hashes are required when API auth is enabled")
		}
	}

	if c.Schedule.Enabled {
		if c.Schedule.Range == "" {
			return fmt.Errorf("schedule range is required when the schedule is enabled")
		}
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule cron expression %q: %w", c.Schedule.Cron, err)
		}
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// APIAddress returns host:port for the API listener.
func (c *Config) APIAddress() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprint(c.API.Port))
}
