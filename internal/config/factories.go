package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"pithos/internal/backend"
	"pithos/internal/metadata"
	"pithos/internal/metrics"
	"pithos/internal/queue"
	"pithos/internal/quotaholder"
	"pithos/internal/storage"
	"pithos/pkg/auth"
	pstorage "pithos/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// CreateBlockEngine creates the storage engine named by cfg.Type.
func CreateBlockEngine(ctx context.Context, cfg *BlocksConfig) (pstorage.StorageEngine, error) {
	switch cfg.Type {
	case "filesystem":
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create block directory: %w", err)
		}
		return storage.NewLocalFileStorage(cfg.Path), nil
	case "s3":
		engine, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 block store: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown block store type: %q", cfg.Type)
	}
}

// BackendOptions converts the policy and backend sections.
func (c *Config) BackendOptions() []backend.ConfigOption {
	opts := []backend.ConfigOption{
		backend.WithBlockSize(c.Backend.BlockSize),
		backend.WithHashAlgorithm(c.Backend.HashAlgorithm),
		backend.WithFreeVersioning(c.Backend.FreeVersioning),
		backend.WithInstanceID(c.Backend.InstanceID),
		backend.WithPublicURL(c.Backend.PublicURLSecurity, c.Backend.PublicURLAlphabet),
		backend.WithDefaultAccountPolicy(map[string]string{
			backend.PolicyQuota: strconv.FormatInt(c.Policy.Account.Quota, 10),
		}),
		backend.WithDefaultContainerPolicy(map[string]string{
			backend.PolicyQuota:      strconv.FormatInt(c.Policy.Container.Quota, 10),
			backend.PolicyVersioning: c.Policy.Container.Versioning,
		}),
	}
	if c.Quotaholder.URL != "" {
		client := quotaholder.NewHTTPClient(c.Quotaholder.URL, c.Quotaholder.Timeout)
		opts = append(opts, backend.WithQuotaholder(client, c.Quotaholder.Token))
	}
	return opts
}

// OpenBackend opens the metadata database and the block store and builds
// the backend over them. Metrics are registered with registry.
func OpenBackend(ctx context.Context, cfg *Config, registry prometheus.Registerer) (*backend.Backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	engine, err := CreateBlockEngine(ctx, &cfg.Blocks)
	if err != nil {
		return nil, err
	}
	blocks, err := storage.NewStore(engine, cfg.Backend.BlockSize, cfg.Backend.HashAlgorithm, storage.WithCompression(cfg.Blocks.Compress))
	if err != nil {
		return nil, fmt.Errorf("failed to create block store: %w", err)
	}

	meta, err := metadata.Open(ctx, cfg.Metadata.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	opts := append(cfg.BackendOptions(),
		backend.WithMetadataStore(meta),
		backend.WithBlockStore(blocks),
		backend.WithPublisher(queue.NewLogPublisher(slog.Default())),
		backend.WithMetrics(metrics.New(registry)),
	)
	b, err := backend.New(opts...)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	return b, nil
}

// AuthEngine returns the engine guarding the administrative routes, or nil
// when no credentials are configured.
func (c *ServerConfig) AuthEngine() auth.AuthEngine {
	var engines []auth.AuthEngine
	if c.AdminUser != "" {
		engines = append(engines, auth.NewBasicAuthEngine(c.AdminUser, c.AdminPassword))
	}
	if c.AdminToken != "" {
		engines = append(engines, auth.NewTokenAuthEngine("admin", c.AdminToken))
	}

	if len(engines) == 0 {
		return nil
	}
	return auth.NewCompoundAuthEngine(engines...)
}
