package core

import (
	"pithos/internal/backend"
	"pithos/pkg/auth"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Backend  *backend.Backend
	Gatherer prometheus.Gatherer
	// Auth guards the administrative routes. They are not served when nil.
	Auth auth.AuthEngine
}

type ConfigOption func(*Config)

func WithBackend(b *backend.Backend) ConfigOption {
	return func(cfg *Config) {
		cfg.Backend = b
	}
}

// WithGatherer sets the registry served on /metrics. The default
// Prometheus registry is used otherwise.
func WithGatherer(gatherer prometheus.Gatherer) ConfigOption {
	return func(cfg *Config) {
		cfg.Gatherer = gatherer
	}
}

func WithAuth(engine auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Auth = engine
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
