package backend

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"pithos/internal/metrics"
	"pithos/internal/queue"
	"pithos/pkg/hashmap"
	"pithos/pkg/metadata"

	"github.com/prometheus/client_golang/prometheus"
)

// Backend is the storage backend. Every operation runs in a Session
// obtained from Begin or Exec.
type Backend struct {
	cfg     Config
	metrics *metrics.Metrics
}

// New validates the configuration and fills in defaults. A metadata store
// and a block store are required.
func New(opts ...ConfigOption) (*Backend, error) {
	cfg := NewConfig(opts...)

	if cfg.Metadata == nil {
		return nil, fmt.Errorf("%w: no metadata store configured", ErrInvalidArgument)
	}
	if cfg.Blocks == nil {
		return nil, fmt.Errorf("%w: no block store configured", ErrInvalidArgument)
	}

	if cfg.BlockSize == 0 {
		cfg.BlockSize = cfg.Blocks.BlockSize()
	}
	if cfg.BlockSize != cfg.Blocks.BlockSize() {
		return nil, fmt.Errorf("%w: block size %d does not match block store block size %d", ErrInvalidArgument, cfg.BlockSize, cfg.Blocks.BlockSize())
	}

	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = hashmap.DefaultAlgorithm
	}
	if _, err := hashmap.NewHashFunc(cfg.HashAlgorithm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if cfg.PublicURLSecurity <= 0 {
		cfg.PublicURLSecurity = DefaultPublicURLSecurity
	}
	if cfg.PublicURLAlphabet == "" {
		cfg.PublicURLAlphabet = DefaultPublicURLAlphabet
	}

	accountPolicy := map[string]string{PolicyQuota: "0"}
	maps.Copy(accountPolicy, cfg.DefaultAccountPolicy)
	cfg.DefaultAccountPolicy = accountPolicy

	containerPolicy := map[string]string{PolicyQuota: "0", PolicyVersioning: VersioningAuto}
	maps.Copy(containerPolicy, cfg.DefaultContainerPolicy)
	cfg.DefaultContainerPolicy = containerPolicy

	if err := checkPolicy(cfg.DefaultAccountPolicy, cfg.DefaultAccountPolicy); err != nil {
		return nil, fmt.Errorf("default account policy: %w", err)
	}
	if err := checkPolicy(cfg.DefaultContainerPolicy, cfg.DefaultContainerPolicy); err != nil {
		return nil, fmt.Errorf("default container policy: %w", err)
	}

	if cfg.Publisher == nil {
		cfg.Publisher = queue.NewLogPublisher(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}

	return &Backend{cfg: cfg, metrics: cfg.Metrics}, nil
}

// Config returns the effective configuration.
func (b *Backend) Config() Config {
	return b.cfg
}

// UsingExternalQuotaholder reports whether account quota is delegated.
func (b *Backend) UsingExternalQuotaholder() bool {
	return b.cfg.Quotaholder != nil
}

// Close closes the metadata store.
func (b *Backend) Close() error {
	return b.cfg.Metadata.Close()
}

// Ping checks that the metadata store can start a transaction.
func (b *Backend) Ping(ctx context.Context) error {
	tx, err := b.cfg.Metadata.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin metadata transaction: %w", err)
	}
	return tx.Rollback()
}

// Exec runs fn in a new session and ends the session with the outcome of
// fn.
func (b *Backend) Exec(ctx context.Context, fn func(s *Session) error, opts ...SessionOption) error {
	s, err := b.Begin(ctx, opts...)
	if err != nil {
		return err
	}

	if err := fn(s); err != nil {
		if endErr := s.End(ctx, false); endErr != nil {
			slog.Error("Error ending failed session", "err", endErr)
		}
		return err
	}
	return s.End(ctx, true)
}

// ReconcileResult reports what Reconcile resolved.
type ReconcileResult struct {
	Accepted []int64
	Rejected []int64
}

// Reconcile settles commissions left pending by an interrupted session.
// Pending serials recorded in the local table were committed locally and
// are accepted. The others belong to rolled back sessions and are
// rejected.
func (b *Backend) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	if !b.UsingExternalQuotaholder() {
		return result, nil
	}

	err := metadata.WithTransaction(ctx, b.cfg.Metadata, func(tx metadata.Tx) error {
		local, err := tx.Serials().List(ctx)
		if err != nil {
			return err
		}

		// Listed after the local serials so that every local serial was
		// issued before the pending list was taken.
		pending, err := b.cfg.Quotaholder.GetPendingCommissions(ctx, b.cfg.ServiceToken)
		if err != nil {
			return fmt.Errorf("get pending commissions: %w", err)
		}

		var accept, reject []int64
		for _, serial := range pending {
			if slices.Contains(local, serial) {
				accept = append(accept, serial)
			} else {
				reject = append(reject, serial)
			}
		}

		// Local serials the quotaholder no longer reports are settled.
		var settled []int64
		for _, serial := range local {
			if !slices.Contains(pending, serial) {
				settled = append(settled, serial)
			}
		}

		if len(accept) > 0 || len(reject) > 0 {
			resolution, err := b.cfg.Quotaholder.ResolveCommissions(ctx, b.cfg.ServiceToken, accept, reject)
			if err != nil {
				return fmt.Errorf("resolve commissions: %w", err)
			}
			b.metrics.CommissionsResolved(len(resolution.Accepted), len(resolution.Rejected))
			result = ReconcileResult{Accepted: resolution.Accepted, Rejected: resolution.Rejected}
		}

		if len(settled) > 0 {
			slog.Debug("Dropping settled commissions", "serials", settled)
		}
		return tx.Serials().Delete(ctx, slices.Concat(result.Accepted, settled))
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	slog.Info("Reconciled commissions", "accepted", len(result.Accepted), "rejected", len(result.Rejected))
	return result, nil
}
