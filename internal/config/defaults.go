package config

import (
	"path/filepath"
	"strings"
	"time"

	"pithos/internal/backend"
	"pithos/pkg/hashmap"
)

const (
	DefaultBlockSize       = 4 * 1024 * 1024
	DefaultListen          = ":9090"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultQuotaTimeout    = 10 * time.Second
	DefaultReconcile       = 5 * time.Minute
)

// ApplyDefaults fills every unset field. Paths left empty are placed in
// DataDir. The reconcile interval is defaulted by Load, where zero
// disables reconciliation.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = filepath.Join(cfg.DataDir, "pithos.db")
	}

	applyBlocksDefaults(cfg)
	applyBackendDefaults(&cfg.Backend)

	if cfg.Policy.Container.Versioning == "" {
		cfg.Policy.Container.Versioning = backend.VersioningAuto
	}

	if cfg.Quotaholder.Timeout == 0 {
		cfg.Quotaholder.Timeout = DefaultQuotaTimeout
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyBlocksDefaults(cfg *Config) {
	if cfg.Blocks.Type == "" {
		cfg.Blocks.Type = "filesystem"
	}
	if cfg.Blocks.Type == "filesystem" && cfg.Blocks.Path == "" {
		cfg.Blocks.Path = filepath.Join(cfg.DataDir, "blocks")
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = hashmap.DefaultAlgorithm
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "pithos"
	}
	if cfg.PublicURLSecurity == 0 {
		cfg.PublicURLSecurity = backend.DefaultPublicURLSecurity
	}
	if cfg.PublicURLAlphabet == "" {
		cfg.PublicURLAlphabet = backend.DefaultPublicURLAlphabet
	}
}

// GetDefaultConfig returns the configuration used when nothing is set.
func GetDefaultConfig() *Config {
	cfg := &Config{Reconcile: ReconcileConfig{Interval: DefaultReconcile}}
	ApplyDefaults(cfg)
	return cfg
}
