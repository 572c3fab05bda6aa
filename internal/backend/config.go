package backend

import (
	"maps"

	"pithos/internal/metrics"
	"pithos/pkg/metadata"
	"pithos/pkg/quotaholder"
	"pithos/pkg/queue"
	"pithos/pkg/storage"
)

// Policy keys and versioning values.
const (
	PolicyQuota      = "quota"
	PolicyVersioning = "versioning"

	VersioningAuto = "auto"
	VersioningNone = "none"
)

const (
	DefaultPublicURLSecurity = 16
	DefaultPublicURLAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// MaxListLimit caps the number of entries one listing returns.
	MaxListLimit = 10000

	// commissionSource is the source of every issued commission.
	commissionSource = "system"
)

type Config struct {
	BlockSize      int
	HashAlgorithm  string
	FreeVersioning bool

	DefaultAccountPolicy   map[string]string
	DefaultContainerPolicy map[string]string

	PublicURLSecurity int
	PublicURLAlphabet string

	InstanceID   string
	ServiceToken string

	Metadata    metadata.Store
	Blocks      storage.BlockStore
	Quotaholder quotaholder.Client
	Publisher   queue.Publisher
	Metrics     *metrics.Metrics
}

type ConfigOption func(*Config)

func WithMetadataStore(store metadata.Store) ConfigOption {
	return func(cfg *Config) {
		cfg.Metadata = store
	}
}

func WithBlockStore(store storage.BlockStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Blocks = store
	}
}

// WithQuotaholder delegates account quota to an external service. Without
// it quota is enforced locally.
func WithQuotaholder(client quotaholder.Client, serviceToken string) ConfigOption {
	return func(cfg *Config) {
		cfg.Quotaholder = client
		cfg.ServiceToken = serviceToken
	}
}

func WithPublisher(publisher queue.Publisher) ConfigOption {
	return func(cfg *Config) {
		cfg.Publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func WithBlockSize(size int) ConfigOption {
	return func(cfg *Config) {
		cfg.BlockSize = size
	}
}

func WithHashAlgorithm(algorithm string) ConfigOption {
	return func(cfg *Config) {
		cfg.HashAlgorithm = algorithm
	}
}

// WithFreeVersioning reports the size of superseded versions as freed
// even though auto versioning keeps them.
func WithFreeVersioning(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.FreeVersioning = enabled
	}
}

func WithInstanceID(id string) ConfigOption {
	return func(cfg *Config) {
		cfg.InstanceID = id
	}
}

func WithDefaultAccountPolicy(policy map[string]string) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultAccountPolicy = maps.Clone(policy)
	}
}

func WithDefaultContainerPolicy(policy map[string]string) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultContainerPolicy = maps.Clone(policy)
	}
}

func WithPublicURL(security int, alphabet string) ConfigOption {
	return func(cfg *Config) {
		cfg.PublicURLSecurity = security
		cfg.PublicURLAlphabet = alphabet
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
