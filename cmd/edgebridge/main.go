package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edgebridge-io/edgebridge/internal/cache"
	"github.com/edgebridge-io/edgebridge/internal/certdeploy"
	"github.com/edgebridge-io/edgebridge/internal/config"
	"github.com/edgebridge-io/edgebridge/internal/creds"
	"github.com/edgebridge-io/edgebridge/internal/httpapi"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/server"
	"github.com/edgebridge-io/edgebridge/internal/mcpserver/tools"
	"github.com/edgebridge-io/edgebridge/internal/purge"
	"github.com/edgebridge-io/edgebridge/internal/tenant"
)

const version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	listenAddr  = flag.String("addr", "", "HTTP listen address (overrides config)")
	edgercPath  = flag.String("edgerc", "", "Path to the tenant credential file (overrides config)")
	showVersion = flag.Bool("version", false, "Show version information")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("edgebridge version %s\n", version)
		os.Exit(0)
	}

	// A .env file is a convenience for local runs; absence is normal.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("addr", cfg.Addr).
		Str("edgerc", cfg.EdgercPath).
		Bool("debug", cfg.Debug).
		Msg("Starting EdgeBridge gateway")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}

	log.Info().Msg("EdgeBridge stopped gracefully")
}

// loadConfig merges the config file, environment overrides, and CLI
// flags, then validates the result.
func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		path = os.Getenv("EDGEBRIDGE_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// CLI flags win over file and environment.
	if *listenAddr != "" {
		cfg.Addr = *listenAddr
	}
	if *edgercPath != "" {
		cfg.EdgercPath = *edgercPath
	}
	if *debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.LogFormat == "console" {
		// Pretty logging for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.Logger.With().Str("service", "edgebridge").Logger()

	if cfg.Debug {
		log.Logger = log.Logger.With().Caller().Logger()
	}
}

// run wires the stack leaves-first and serves until a signal arrives.
func run(cfg *config.Config) error {
	// Credential store: INI file, optionally sealed in memory.
	fileStore, err := creds.LoadFile(cfg.EdgercPath)
	if err != nil {
		return fmt.Errorf("loading credential file: %w", err)
	}

	var store creds.Store = fileStore
	if cfg.MasterKey != "" {
		secure, err := creds.NewSecureStore([]byte(cfg.MasterKey))
		if err != nil {
			return fmt.Errorf("building secure store: %w", err)
		}
		if err := secure.SealFrom(fileStore); err != nil {
			return fmt.Errorf("sealing credentials: %w", err)
		}
		store = secure
	}
	log.Info().Int("tenants", len(store.List())).Bool("sealed", cfg.MasterKey != "").
		Msg("credential store ready")

	// Smart cache.
	policy, err := cache.ParsePolicy(cfg.Cache.EvictionPolicy)
	if err != nil {
		return err
	}
	cacheOpts := cache.Options{
		MaxEntries:           cfg.Cache.MaxSize,
		MaxBytes:             cfg.Cache.MaxBytes(),
		DefaultTTL:           cfg.Cache.DefaultTTL(),
		Policy:               policy,
		Compression:          cfg.Cache.Compression,
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		AdaptiveTTL:          cfg.Cache.AdaptiveTTL,
		Coalescing:           cfg.Cache.RequestCoalescing,
	}
	if cfg.Cache.Persistence {
		cacheOpts.SnapshotPath = cfg.Cache.PersistencePath
	}
	appCache, err := cache.New(cacheOpts)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}

	// Identity and tenant sessions. Rotation flushes the rotated
	// tenant's cache so nothing fetched under the old credentials is
	// served on.
	if cfg.JWTSecret == "" {
		return errors.New("MCP_JWT_SECRET is required")
	}
	provider, err := tenant.NewJWTProvider([]byte(cfg.JWTSecret))
	if err != nil {
		return fmt.Errorf("building identity provider: %w", err)
	}
	manager, err := tenant.NewManager(tenant.Config{
		Provider: provider,
		Store:    store,
		OnRotate: func(tenantID string) {
			n := appCache.FlushTenant(tenantID)
			log.Info().Str("tenant", tenantID).Int("entries", n).
				Msg("cache flushed after credential rotation")
		},
	})
	if err != nil {
		return fmt.Errorf("building tenant manager: %w", err)
	}

	// FastPurge pipeline with durable queues.
	purgeSvc, err := purge.NewService(purge.Config{
		QueueDir:  cfg.Purge.QueueDir,
		StatusDir: cfg.Purge.StatusDir,
		Clients: func(tenantID string) (purge.Doer, error) {
			return manager.ServiceClient(tenantID)
		},
	})
	if err != nil {
		return fmt.Errorf("building purge pipeline: %w", err)
	}
	if err := purgeSvc.Start(); err != nil {
		return fmt.Errorf("starting purge pipeline: %w", err)
	}

	// Certificate deployment coordinator.
	coordinator := certdeploy.New(certdeploy.Config{})

	svc := &tools.Services{
		Tenants:   manager,
		Cache:     appCache,
		Purge:     purgeSvc,
		Deploy:    coordinator,
		Version:   version,
		StartedAt: time.Now(),
	}

	api := &httpapi.Server{
		Services:  svc,
		MCP:       server.NewMCPServer(svc, cfg.AllowedOrigins),
		Store:     store,
		RateLimit: httpapi.DefaultRateLimitConfig,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No write deadline: /mcp/events streams stay open until the
		// client disconnects.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// Open event streams hold their connections; force them shut
		// once the drain deadline passes.
		log.Warn().Err(err).Msg("HTTP drain incomplete, closing connections")
		_ = httpServer.Close()
	}

	if err := purgeSvc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("purge pipeline shutdown error")
	}
	coordinator.Close()
	if err := appCache.Close(); err != nil {
		log.Error().Err(err).Msg("cache close error")
	}
	manager.Stop()

	return nil
}
