package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load reads the JSON file at path when one is given, then applies
// environment overrides. Validation is deferred so CLI flags can still
// override fields before the caller runs Validate.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// LoadFromEnvironment builds the configuration from defaults and
// environment variables alone, for deployments without a config file.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// loadFromFile decodes the JSON file over the defaults, so fields the
// file omits keep their default values.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides layers environment variables over the
// current values. Malformed numbers and booleans are ignored rather
// than failing startup.
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("EDGEBRIDGE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if path := os.Getenv("EDGEBRIDGE_EDGERC"); path != "" {
		cfg.EdgercPath = path
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if secret := os.Getenv("MCP_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if key := os.Getenv("CREDENTIAL_MASTER_KEY"); key != "" {
		cfg.MasterKey = key
	}
	if origins := os.Getenv("MCP_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.AllowedOrigins = make([]string, 0, len(parts))
		for _, origin := range parts {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}
	envBool("DEBUG", &cfg.Debug)

	envInt("CACHE_MAX_SIZE", &cfg.Cache.MaxSize)
	envInt("CACHE_MAX_MEMORY_MB", &cfg.Cache.MaxMemoryMB)
	envInt("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTLSeconds)
	if policy := os.Getenv("CACHE_EVICTION_POLICY"); policy != "" {
		cfg.Cache.EvictionPolicy = policy
	}
	envBool("CACHE_COMPRESSION", &cfg.Cache.Compression)
	envInt("CACHE_COMPRESSION_THRESHOLD", &cfg.Cache.CompressionThreshold)
	envBool("CACHE_PERSISTENCE", &cfg.Cache.Persistence)
	if path := os.Getenv("CACHE_PERSISTENCE_PATH"); path != "" {
		cfg.Cache.PersistencePath = path
	}
	envBool("CACHE_ADAPTIVE_TTL", &cfg.Cache.AdaptiveTTL)
	envBool("CACHE_REQUEST_COALESCING", &cfg.Cache.RequestCoalescing)

	if dir := os.Getenv("QUEUE_PERSISTENCE_DIR"); dir != "" {
		cfg.Purge.QueueDir = dir
	}
	if dir := os.Getenv("STATUS_PERSISTENCE_DIR"); dir != "" {
		cfg.Purge.StatusDir = dir
	}
}

func envBool(name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
