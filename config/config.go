// Package config provides loading and parsing of snitch.yaml configuration
// files. Environment variables override the file for connection settings so
// secrets need not live on disk.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sacharya/FleetDeploymentReporting/telemetry"
)

// File names searched for in a directory.
const (
	FileName    = "snitch.yaml"
	AltFileName = "snitch.yml"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig        = "SNITCH_CONFIG"
	EnvNeo4jURI      = "NEO4J_URI"
	EnvNeo4jUsername = "NEO4J_USERNAME"
	EnvNeo4jPassword = "NEO4J_PASSWORD"
	EnvDataDir       = "SNITCH_DATA_DIR"
	EnvRedisURL      = "SNITCH_REDIS_URL"
)

// Graph store backends.
const (
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// Config represents a snitch.yaml configuration file.
type Config struct {
	// Store selects the graph backend: "neo4j" (default) or "memory".
	Store string `yaml:"store,omitempty"`

	Neo4j Neo4jConfig `yaml:"neo4j"`

	// DataDir holds one subdirectory per collected run.
	DataDir string `yaml:"data_dir"`

	// Redis, when a URL is set, keeps the run catalog in Redis.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Schema is an optional path to a YAML schema declaration. Empty uses
	// the built-in cloud snitch schema.
	Schema string `yaml:"schema,omitempty"`

	Sync      SyncConfig       `yaml:"sync,omitempty"`
	Lock      LockConfig       `yaml:"lock,omitempty"`
	Prune     PruneConfig      `yaml:"prune,omitempty"`
	Terminate TerminateConfig  `yaml:"terminate,omitempty"`
	Log       LogConfig        `yaml:"log,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
}

// Neo4jConfig holds the graph database connection.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database,omitempty"`
}

// RedisConfig holds the run catalog connection.
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`

	// ConnectTimeout is a Go duration string. Default: 5s
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
}

// GetConnectTimeout parses the connect timeout and returns a duration.
// Returns the default value if not set or invalid.
func (r RedisConfig) GetConnectTimeout() time.Duration {
	return duration(r.ConnectTimeout, 5*time.Second)
}

// SyncConfig configures the run orchestrator.
type SyncConfig struct {
	// Concurrency is how many environments sync at once. Default: 1
	Concurrency int `yaml:"concurrency,omitempty"`

	// Filter is an optional CEL expression selecting runs.
	Filter string `yaml:"filter,omitempty"`
}

// GetConcurrency returns the configured concurrency or the default value.
func (s SyncConfig) GetConcurrency() int {
	if s.Concurrency <= 0 {
		return 1
	}
	return s.Concurrency
}

// LockConfig configures environment locks.
type LockConfig struct {
	// Lease is a Go duration string after which a claim may be taken over.
	// Empty or zero means claims never expire.
	Lease string `yaml:"lease,omitempty"`
}

// GetLease returns the lease duration, zero when unset or invalid.
func (l LockConfig) GetLease() time.Duration {
	return duration(l.Lease, 0)
}

// PruneConfig configures environment removal.
type PruneConfig struct {
	// DeleteLimit is the number of nodes deleted per transaction. Default: 5000
	DeleteLimit int `yaml:"delete_limit,omitempty"`
}

// GetDeleteLimit returns the delete chunk size or the default value.
func (p PruneConfig) GetDeleteLimit() int {
	if p.DeleteLimit <= 0 {
		return 5000
	}
	return p.DeleteLimit
}

// TerminateConfig configures environment termination.
type TerminateConfig struct {
	// Limit is the number of relationships closed per transaction. Default: 2000
	Limit int `yaml:"limit,omitempty"`
}

// GetLimit returns the close chunk size or the default value.
func (t TerminateConfig) GetLimit() int {
	if t.Limit <= 0 {
		return 2000
	}
	return t.Limit
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is text or json. Default: text
	Format string `yaml:"format,omitempty"`
}

// GetLevel parses the log level. Returns info if not set or invalid.
func (l LogConfig) GetLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Store: StoreNeo4j,
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
		DataDir: "/opt/cloud_snitch/data",
	}
}

// Load reads and parses a snitch.yaml file from the given path.
// If the path is a directory, it looks for snitch.yaml or snitch.yml in that
// directory. Unset fields keep their Default values.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{FileName, AltFileName} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s or %s found in %s", FileName, AltFileName, path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromDir searches for snitch.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		cfg, err := Load(absDir)
		if err == nil {
			return cfg, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no %s found in %s or parent directories", FileName, dir)
		}
		absDir = parent
	}
}

// Resolve finds the configuration for a command. An explicit path wins,
// then $SNITCH_CONFIG, then a snitch.yaml in the working directory or its
// parents, then Default. Environment overrides are applied last.
func Resolve(explicit string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch {
	case explicit != "":
		cfg, err = Load(explicit)
	case os.Getenv(EnvConfig) != "":
		cfg, err = Load(os.Getenv(EnvConfig))
	default:
		var cwd string
		if cwd, err = os.Getwd(); err == nil {
			if cfg, err = LoadFromDir(cwd); err != nil {
				cfg, err = Default(), nil
			}
		}
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Neo4j.URI, EnvNeo4jURI)
	set(&c.Neo4j.Username, EnvNeo4jUsername)
	set(&c.Neo4j.Password, EnvNeo4jPassword)
	set(&c.DataDir, EnvDataDir)
	set(&c.Redis.URL, EnvRedisURL)
}

// Validate checks the configuration for values no command can use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "", StoreNeo4j:
		if c.Neo4j.URI == "" {
			errs = append(errs, errors.New("neo4j.uri is required"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Lock.Lease != "" {
		if _, err := time.ParseDuration(c.Lock.Lease); err != nil {
			errs = append(errs, fmt.Errorf("lock.lease: %w", err))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
