package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// every variable the loader reads, cleared before each case so ambient
// environment cannot leak into assertions
var loaderEnvKeys = []string{
	"EDGEBRIDGE_ADDR", "EDGEBRIDGE_EDGERC", "LOG_FORMAT", "MCP_JWT_SECRET",
	"CREDENTIAL_MASTER_KEY", "MCP_ALLOWED_ORIGINS", "DEBUG",
	"CACHE_MAX_SIZE", "CACHE_MAX_MEMORY_MB", "CACHE_DEFAULT_TTL",
	"CACHE_EVICTION_POLICY", "CACHE_COMPRESSION", "CACHE_COMPRESSION_THRESHOLD",
	"CACHE_PERSISTENCE", "CACHE_PERSISTENCE_PATH", "CACHE_ADAPTIVE_TTL",
	"CACHE_REQUEST_COALESCING", "QUEUE_PERSISTENCE_DIR", "STATUS_PERSISTENCE_DIR",
}

func clearLoaderEnv(t *testing.T) {
	t.Helper()
	for _, key := range loaderEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		checks  func(*testing.T, *Config)
	}{
		{
			name: "defaults when nothing set",
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Addr != ":8080" {
					t.Errorf("expected default Addr=:8080, got %s", cfg.Addr)
				}
				if cfg.LogFormat != "json" {
					t.Errorf("expected default LogFormat=json, got %s", cfg.LogFormat)
				}
				if cfg.Cache.MaxSize != 10000 {
					t.Errorf("expected default Cache.MaxSize=10000, got %d", cfg.Cache.MaxSize)
				}
				if !cfg.Cache.AdaptiveTTL || !cfg.Cache.RequestCoalescing {
					t.Error("expected adaptive TTL and coalescing on by default")
				}
				if cfg.Cache.Compression {
					t.Error("expected compression off by default")
				}
			},
		},
		{
			name: "cache overrides",
			envVars: map[string]string{
				"CACHE_MAX_SIZE":        "500",
				"CACHE_DEFAULT_TTL":     "60",
				"CACHE_EVICTION_POLICY": "lfu",
				"CACHE_COMPRESSION":     "1",
				"CACHE_ADAPTIVE_TTL":    "false",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Cache.MaxSize != 500 {
					t.Errorf("expected Cache.MaxSize=500, got %d", cfg.Cache.MaxSize)
				}
				if cfg.Cache.DefaultTTLSeconds != 60 {
					t.Errorf("expected Cache.DefaultTTLSeconds=60, got %d", cfg.Cache.DefaultTTLSeconds)
				}
				if cfg.Cache.EvictionPolicy != "lfu" {
					t.Errorf("expected Cache.EvictionPolicy=lfu, got %s", cfg.Cache.EvictionPolicy)
				}
				if !cfg.Cache.Compression {
					t.Error("expected Cache.Compression=true")
				}
				if cfg.Cache.AdaptiveTTL {
					t.Error("expected CACHE_ADAPTIVE_TTL=false to disable adaptive TTL")
				}
			},
		},
		{
			name: "paths and secrets",
			envVars: map[string]string{
				"EDGEBRIDGE_ADDR":        ":9443",
				"EDGEBRIDGE_EDGERC":      "/etc/edgebridge/edgerc",
				"MCP_JWT_SECRET":         "session-secret",
				"CREDENTIAL_MASTER_KEY":  "master-key-bytes",
				"DEBUG":                  "true",
				"QUEUE_PERSISTENCE_DIR":  "/var/lib/edgebridge/queues",
				"STATUS_PERSISTENCE_DIR": "/var/lib/edgebridge/status",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Addr != ":9443" {
					t.Errorf("expected Addr=:9443, got %s", cfg.Addr)
				}
				if cfg.EdgercPath != "/etc/edgebridge/edgerc" {
					t.Errorf("expected EdgercPath from env, got %s", cfg.EdgercPath)
				}
				if cfg.JWTSecret != "session-secret" || cfg.MasterKey != "master-key-bytes" {
					t.Error("expected secrets from env")
				}
				if !cfg.Debug {
					t.Error("expected Debug=true")
				}
				if cfg.Purge.QueueDir != "/var/lib/edgebridge/queues" {
					t.Errorf("expected Purge.QueueDir from env, got %s", cfg.Purge.QueueDir)
				}
				if cfg.Purge.StatusDir != "/var/lib/edgebridge/status" {
					t.Errorf("expected Purge.StatusDir from env, got %s", cfg.Purge.StatusDir)
				}
			},
		},
		{
			name: "allowed origins split and trimmed",
			envVars: map[string]string{
				"MCP_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com ,,",
			},
			checks: func(t *testing.T, cfg *Config) {
				if len(cfg.AllowedOrigins) != 2 {
					t.Fatalf("expected 2 origins, got %v", cfg.AllowedOrigins)
				}
				if cfg.AllowedOrigins[0] != "https://a.example.com" || cfg.AllowedOrigins[1] != "https://b.example.com" {
					t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
				}
			},
		},
		{
			name: "malformed numbers and booleans are ignored",
			envVars: map[string]string{
				"CACHE_MAX_SIZE": "lots",
				"DEBUG":          "affirmative",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Cache.MaxSize != 10000 {
					t.Errorf("expected malformed CACHE_MAX_SIZE to keep default, got %d", cfg.Cache.MaxSize)
				}
				if cfg.Debug {
					t.Error("expected malformed DEBUG to keep default false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLoaderEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := LoadFromEnvironment()
			if err != nil {
				t.Fatalf("LoadFromEnvironment() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	testConfigPath := filepath.Join(tmpDir, "edgebridge.json")
	testConfigJSON := `{
  "addr": ":9090",
  "edgercPath": "/etc/edgebridge/edgerc",
  "cache": {
    "maxSize": 2500,
    "evictionPolicy": "FIFO",
    "compression": true
  },
  "purge": {
    "queueDir": "/data/queues",
    "statusDir": "/data/status"
  }
}`
	if err := os.WriteFile(testConfigPath, []byte(testConfigJSON), 0o644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}

	badConfigPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badConfigPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to create bad config file: %v", err)
	}

	tests := []struct {
		name       string
		configPath string
		envVars    map[string]string
		wantErr    error
		checks     func(*testing.T, *Config)
	}{
		{
			name:       "load from file keeps defaults for omitted fields",
			configPath: testConfigPath,
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Addr != ":9090" {
					t.Errorf("expected Addr from file, got %s", cfg.Addr)
				}
				if cfg.Cache.MaxSize != 2500 || cfg.Cache.EvictionPolicy != "FIFO" {
					t.Errorf("expected cache section from file, got %+v", cfg.Cache)
				}
				if cfg.Cache.MaxMemoryMB != 100 {
					t.Errorf("expected default MaxMemoryMB for omitted field, got %d", cfg.Cache.MaxMemoryMB)
				}
				if !cfg.Cache.AdaptiveTTL {
					t.Error("expected omitted adaptiveTtl to stay default true")
				}
				if cfg.Purge.QueueDir != "/data/queues" {
					t.Errorf("expected Purge.QueueDir from file, got %s", cfg.Purge.QueueDir)
				}
			},
		},
		{
			name:       "env overrides file",
			configPath: testConfigPath,
			envVars: map[string]string{
				"EDGEBRIDGE_ADDR": ":7000",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Addr != ":7000" {
					t.Errorf("expected env to override file Addr, got %s", cfg.Addr)
				}
				if cfg.Cache.MaxSize != 2500 {
					t.Errorf("expected non-overridden file values to survive, got %d", cfg.Cache.MaxSize)
				}
			},
		},
		{
			name:       "nonexistent file",
			configPath: filepath.Join(tmpDir, "missing.json"),
			wantErr:    ErrConfigFileNotFound,
		},
		{
			name:       "malformed file",
			configPath: badConfigPath,
			wantErr:    ErrInvalidConfigFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearLoaderEnv(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(tt.configPath)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default config is valid", mutate: func(*Config) {}},
		{name: "missing addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: ErrMissingAddr},
		{name: "missing credential file", mutate: func(c *Config) { c.EdgercPath = "" }, wantErr: ErrMissingCredentialFile},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: ErrBadLogFormat},
		{name: "bad eviction policy", mutate: func(c *Config) { c.Cache.EvictionPolicy = "MRU" }, wantErr: ErrBadEvictionPolicy},
		{name: "lowercase policy accepted", mutate: func(c *Config) { c.Cache.EvictionPolicy = "fifo" }},
		{name: "zero max size", mutate: func(c *Config) { c.Cache.MaxSize = 0 }, wantErr: ErrBadCacheBound},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.DefaultTTLSeconds = 0 }, wantErr: ErrBadCacheBound},
		{
			name:    "persistence without path",
			mutate:  func(c *Config) { c.Cache.Persistence = true },
			wantErr: ErrMissingPersistencePath,
		},
		{
			name: "persistence with path",
			mutate: func(c *Config) {
				c.Cache.Persistence = true
				c.Cache.PersistencePath = "/tmp/cache.json"
			},
		},
		{name: "missing purge dirs", mutate: func(c *Config) { c.Purge.QueueDir = "" }, wantErr: ErrMissingPurgeDirs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
