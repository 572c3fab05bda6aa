package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pithos/internal/backend"
	"pithos/internal/config"
	"pithos/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health and metrics and reconcile commissions periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := config.OpenBackend(ctx, cfg, registry)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer b.Close()

	server, err := core.NewServer(core.NewConfig(
		core.WithBackend(b),
		core.WithGatherer(registry),
		core.WithAuth(cfg.Server.AuthEngine()),
	))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			slog.Info("Starting Pithos HTTPS server", "listen", cfg.Server.Listen)
			err = httpServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			slog.Info("Starting Pithos HTTP server", "listen", cfg.Server.Listen)
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return reconcileLoop(ctx, b, cfg.Reconcile.Interval)
	})

	slog.Info("Pithos Started",
		"data_dir", cfg.DataDir,
		"blocks", cfg.Blocks.Type,
		"external_quota", b.UsingExternalQuotaholder(),
	)
	return eg.Wait()
}

// reconcileLoop settles pending commissions every interval until ctx is
// done. Failures are logged and retried on the next tick.
func reconcileLoop(ctx context.Context, b *backend.Backend, interval time.Duration) error {
	if interval <= 0 || !b.UsingExternalQuotaholder() {
		slog.Debug("Commission reconciliation disabled")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Reconcile(ctx); err != nil {
				slog.Error("Resolve commissions", "err", err)
			}
		}
	}
}
