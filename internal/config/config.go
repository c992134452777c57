// Package config provides YAML-based configuration loading for bolttrack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "bolttrack.yaml"

// DefaultMaxBatch is the allocation ceiling: one A4 label sheet (5x13).
const DefaultMaxBatch = 65

// Config is the top-level bolttrack configuration, loaded from bolttrack.yaml.
type Config struct {
	Site      string          `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Barcode   BarcodeConfig   `yaml:"barcode"`
	Integrity IntegrityConfig `yaml:"integrity"`
	Audit     AuditConfig     `yaml:"audit"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects and configures the persistent store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ScannerStaleAfter time.Duration `yaml:"scanner_stale_after"`
}

// BarcodeConfig bounds barcode allocation.
type BarcodeConfig struct {
	MaxBatch int      `yaml:"max_batch"`
	Sizes    []string `yaml:"sizes"`
}

// IntegrityConfig schedules the periodic gap sweep.
type IntegrityConfig struct {
	Schedule string `yaml:"schedule"`
}

// AuditConfig controls audit log retention.
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// BroadcastConfig controls real-time event delivery.
type BroadcastConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var sizeToken = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// DefaultPath returns the config file to use when none is given: the file
// in the working directory if present, otherwise the XDG config location.
func DefaultPath() string {
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("bolttrack", DefaultFile)); err == nil {
		return p
	}
	return DefaultFile
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" && c.Site != "" {
		c.Database.Name = "bolttrack_" + c.Site
	}
	if c.Database.Path == "" {
		c.Database.Path = "bolttrack.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ScannerStaleAfter == 0 {
		c.Server.ScannerStaleAfter = 2 * time.Minute
	}
	if c.Barcode.MaxBatch == 0 {
		c.Barcode.MaxBatch = DefaultMaxBatch
	}
	if c.Integrity.Schedule == "" {
		c.Integrity.Schedule = "0 23 * * *"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = 256
	}
	if c.Broadcast.RedisChannel == "" {
		c.Broadcast.RedisChannel = "bolttrack.events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Site == "" {
		errs = append(errs, "site is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Barcode.MaxBatch < 0 {
		errs = append(errs, "barcode.max_batch must be positive")
	}
	for i, s := range c.Barcode.Sizes {
		if !sizeToken.MatchString(s) {
			errs = append(errs, fmt.Sprintf("barcode.sizes[%d] %q must be alphanumeric", i, s))
		}
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must be positive")
	}
	if c.Broadcast.QueueSize < 0 {
		errs = append(errs, "broadcast.queue_size must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
