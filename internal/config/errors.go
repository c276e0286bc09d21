package config

import "errors"

var (
	// ErrConfigFileNotFound indicates the config file path does not exist.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates the config file is not valid JSON.
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")

	// ErrMissingAddr indicates no listen address is configured.
	ErrMissingAddr = errors.New("addr is required in configuration")

	// ErrMissingCredentialFile indicates no credential file path is configured.
	ErrMissingCredentialFile = errors.New("edgercPath is required in configuration")

	// ErrBadLogFormat indicates an unknown log format name.
	ErrBadLogFormat = errors.New("logFormat must be json or console")

	// ErrBadEvictionPolicy indicates an unknown cache eviction policy.
	ErrBadEvictionPolicy = errors.New("cache.evictionPolicy must be LRU, LFU, or FIFO")

	// ErrBadCacheBound indicates a non-positive cache size, memory, or TTL.
	ErrBadCacheBound = errors.New("cache bounds must be positive")

	// ErrMissingPersistencePath indicates persistence is on without a path.
	ErrMissingPersistencePath = errors.New("cache.persistencePath is required when cache.persistence is enabled")

	// ErrMissingPurgeDirs indicates the purge directories are not configured.
	ErrMissingPurgeDirs = errors.New("purge.queueDir and purge.statusDir are required")
)
