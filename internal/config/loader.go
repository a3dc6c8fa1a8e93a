package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvRedisHost            = "GRAPHCACHE_REDIS_HOST"
	EnvRedisPort            = "GRAPHCACHE_REDIS_PORT"
	EnvRedisPassword        = "GRAPHCACHE_REDIS_PASSWORD"
	EnvRedisDB              = "GRAPHCACHE_REDIS_DB"
	EnvDistributedEnabled   = "GRAPHCACHE_DISTRIBUTED_ENABLED"
	EnvCompressionAlgorithm = "GRAPHCACHE_COMPRESSION_ALGORITHM"
)

// Load reads a YAML file over the defaults, then applies environment
// overrides and options. An empty path skips the file. The result is
// not validated; Manager.Start does that.
func Load(path string, options ...Option) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Parse decodes YAML into cfg. A document that declares namespaces
// replaces the default namespace set instead of merging into it.
func Parse(data []byte, cfg *Config) error {
	defaults := cfg.Namespaces
	cfg.Namespaces = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.Namespaces = defaults
		return err
	}

	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = defaults
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv(EnvRedisHost); ok {
		cfg.Distributed.Host = v
	}
	if v, ok := lookupEnv(EnvRedisPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalidConfig, EnvRedisPort, v)
		}
		cfg.Distributed.Port = port
	}
	if v, ok := lookupEnv(EnvRedisPassword); ok {
		cfg.Distributed.Password = v
	}
	if v, ok := lookupEnv(EnvRedisDB); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a db index", ErrInvalidConfig, EnvRedisDB, v)
		}
		cfg.Distributed.DB = db
	}
	if v, ok := lookupEnv(EnvDistributedEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a bool", ErrInvalidConfig, EnvDistributedEnabled, v)
		}
		cfg.Distributed.Enabled = enabled
	}
	if v, ok := lookupEnv(EnvCompressionAlgorithm); ok {
		cfg.Compression.Algorithm = strings.ToLower(v)
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
