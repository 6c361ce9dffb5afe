package core

import (
	"time"

	"coffer/internal/store"
)

const (
	DefaultRegion        = "us-east-1"
	DefaultCheckInterval = time.Hour

	// DefaultMaxObjectSize bounds a single PUT. Payloads are held in memory
	// while they are hashed and written.
	DefaultMaxObjectSize int64 = 512 << 20
)

type Config struct {
	DataDir       string
	Region        string
	CheckInterval time.Duration
	MaxObjectSize int64

	// Store, when set, is used instead of opening one under DataDir. The
	// server does not close a store it was given.
	Store *store.Store
}

type ConfigOption func(*Config)

func WithStore(s *store.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = s
	}
}

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

// WithCheckInterval sets how often the consistency checker scans the store.
// Zero or a negative value disables periodic scans.
func WithCheckInterval(interval time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.CheckInterval = interval
	}
}

func WithMaxObjectSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxObjectSize = size
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Region:        DefaultRegion,
		CheckInterval: DefaultCheckInterval,
		MaxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
