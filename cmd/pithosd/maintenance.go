package main

import (
	"fmt"
	"log/slog"
	"time"

	"pithos/internal/backend"
	"pithos/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve commissions left pending by interrupted transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			b, err := config.OpenBackend(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("failed to open backend: %w", err)
			}
			defer b.Close()

			if !b.UsingExternalQuotaholder() {
				slog.Info("No quotaholder configured, nothing to reconcile")
				return nil
			}

			result, err := b.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "accepted %d, rejected %d\n", len(result.Accepted), len(result.Rejected))
			return err
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var (
		account   string
		container string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge the version history of a container",
		Long: `Purge removes the history versions of every object in a container
that are older than --older-than and releases their block maps. Current
versions are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			b, err := config.OpenBackend(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("failed to open backend: %w", err)
			}
			defer b.Close()

			until := time.Now().Add(-olderThan)
			err = b.Exec(cmd.Context(), func(s *backend.Session) error {
				return s.DeleteContainer(cmd.Context(), account, account, container, until, "", "")
			}, backend.WithContainerLock())
			if err != nil {
				return fmt.Errorf("failed to purge %s/%s: %w", account, container, err)
			}

			slog.Info("Purged container history", "account", account, "container", container, "until", until)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account owning the container")
	cmd.Flags().StringVar(&container, "container", "", "container to purge")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "keep history newer than this age")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("container")

	return cmd
}
