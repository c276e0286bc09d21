// Package config carries the gateway configuration: a JSON file as the
// base, environment variables layered on top, CLI flags applied by the
// caller before Validate.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration for the gateway process.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr"`
	// EdgercPath locates the INI credential file holding one section
	// per tenant.
	EdgercPath string `json:"edgercPath"`
	// LogFormat selects json or console output.
	LogFormat string `json:"logFormat"`
	Debug     bool   `json:"debug"`

	// JWTSecret verifies session bearer tokens. Usually supplied via
	// MCP_JWT_SECRET rather than the file.
	JWTSecret string `json:"jwtSecret,omitempty"`
	// MasterKey seals the secure credential store. Environment only;
	// never read from or written to the config file.
	MasterKey string `json:"-"`

	// AllowedOrigins is the Origin allowlist for browser clients. Empty
	// allows every origin; requests without an Origin header always
	// pass.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	Cache CacheConfig `json:"cache"`
	Purge PurgeConfig `json:"purge"`
}

// CacheConfig shapes the smart cache.
type CacheConfig struct {
	MaxSize              int    `json:"maxSize"`
	MaxMemoryMB          int    `json:"maxMemoryMb"`
	DefaultTTLSeconds    int    `json:"defaultTtlSeconds"`
	EvictionPolicy       string `json:"evictionPolicy"`
	Compression          bool   `json:"compression"`
	CompressionThreshold int    `json:"compressionThreshold"`
	Persistence          bool   `json:"persistence"`
	PersistencePath      string `json:"persistencePath,omitempty"`
	AdaptiveTTL          bool   `json:"adaptiveTtl"`
	RequestCoalescing    bool   `json:"requestCoalescing"`
}

// DefaultTTL returns the configured TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// MaxBytes returns the memory bound in bytes.
func (c CacheConfig) MaxBytes() int64 {
	return int64(c.MaxMemoryMB) << 20
}

// PurgeConfig points the purge pipeline at its persistence
// directories.
type PurgeConfig struct {
	QueueDir  string `json:"queueDir"`
	StatusDir string `json:"statusDir"`
}

// DefaultConfig returns the configuration the gateway ships with.
func DefaultConfig() *Config {
	return &Config{
		Addr:       ":8080",
		EdgercPath: ".edgerc",
		LogFormat:  "json",
		Cache: CacheConfig{
			MaxSize:              10000,
			MaxMemoryMB:          100,
			DefaultTTLSeconds:    300,
			EvictionPolicy:       "LRU",
			CompressionThreshold: 10240,
			AdaptiveTTL:          true,
			RequestCoalescing:    true,
		},
		Purge: PurgeConfig{
			QueueDir:  "data/purge/queues",
			StatusDir: "data/purge/status",
		},
	}
}

// Validate checks the merged configuration. Call it after every
// override layer has been applied.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrMissingAddr
	}
	if c.EdgercPath == "" {
		return ErrMissingCredentialFile
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w, got %q", ErrBadLogFormat, c.LogFormat)
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Purge.QueueDir == "" || c.Purge.StatusDir == "" {
		return ErrMissingPurgeDirs
	}
	return nil
}

// Validate checks the cache section.
func (c *CacheConfig) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: maxSize %d", ErrBadCacheBound, c.MaxSize)
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("%w: maxMemoryMb %d", ErrBadCacheBound, c.MaxMemoryMB)
	}
	if c.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("%w: defaultTtlSeconds %d", ErrBadCacheBound, c.DefaultTTLSeconds)
	}
	switch strings.ToUpper(c.EvictionPolicy) {
	case "LRU", "LFU", "FIFO":
	default:
		return fmt.Errorf("%w, got %q", ErrBadEvictionPolicy, c.EvictionPolicy)
	}
	if c.Persistence && c.PersistencePath == "" {
		return ErrMissingPersistencePath
	}
	return nil
}
