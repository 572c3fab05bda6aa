package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pithos/internal/backend"
	"pithos/internal/config"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Account   = "alice"
	Container = "docs"
	Object    = "notes.txt"
)

// UploadObject stores data as blocks and creates a new version of the
// object from their hashes.
func UploadObject(ctx context.Context, b *backend.Backend, name string, data []byte) (int64, error) {
	blockSize := b.Config().BlockSize

	hashes := make([]string, 0)
	for start := 0; start < len(data); start += blockSize {
		hash, err := b.PutBlock(ctx, data[start:min(start+blockSize, len(data))])
		if err != nil {
			return 0, fmt.Errorf("failed to store block: %w", err)
		}
		hashes = append(hashes, hash)
	}

	var version int64
	err := b.Exec(ctx, func(s *backend.Session) error {
		var err error
		version, _, err = s.UpdateObjectHashmap(ctx, Account, Account, Container, name, backend.ObjectUpdate{
			Size:   int64(len(data)),
			Type:   "text/plain",
			Hashes: hashes,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.Info("Uploaded object", "object", name, "bytes", len(data), "version", version)
	return version, nil
}

// LogUsage reports the usage of the container and the versions of the
// object.
func LogUsage(ctx context.Context, b *backend.Backend, name string) error {
	return b.Exec(ctx, func(s *backend.Session) error {
		meta, err := s.GetContainerMeta(ctx, Account, Account, Container, "", time.Time{}, false)
		if err != nil {
			return err
		}

		versions, err := s.ListVersions(ctx, Account, Account, Container, name)
		if err != nil {
			return err
		}

		serials := make([]int64, 0, len(versions))
		for _, v := range versions {
			serials = append(serials, v.Version)
		}

		slog.Info("Container usage", "container", Container, "bytes", meta.Bytes, "usage", meta.Usage, "versions", serials)
		return nil
	})
}

func Run(ctx context.Context, dataDir string) error {
	cfg := config.GetDefaultConfig()
	cfg.DataDir = dataDir
	cfg.Metadata.Path = filepath.Join(dataDir, "pithos.db")
	cfg.Blocks.Path = filepath.Join(dataDir, "blocks")

	b, err := config.OpenBackend(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer b.Close()

	// 1. Create the account and a container with a quota of 1000 bytes.
	err = b.Exec(ctx, func(s *backend.Session) error {
		if err := s.PutAccount(ctx, Account, Account, nil); err != nil {
			return err
		}
		return s.PutContainer(ctx, Account, Account, Container, map[string]string{
			"quota":      "1000",
			"versioning": "auto",
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	// 2. Upload and overwrite, keeping the first version as history.
	for _, size := range []int{500, 300} {
		if _, err := UploadObject(ctx, b, Object, bytes.Repeat([]byte("a"), size)); err != nil {
			return fmt.Errorf("failed to upload %d bytes: %w", size, err)
		}
		if err := LogUsage(ctx, b, Object); err != nil {
			return err
		}
	}

	// 3. Another overwrite would keep 1100 bytes.
	_, err = UploadObject(ctx, b, Object, bytes.Repeat([]byte("b"), 300))
	var quotaErr *backend.QuotaError
	if !errors.As(err, &quotaErr) {
		return fmt.Errorf("expected a quota error, got %v", err)
	}
	slog.Warn("Upload refused", "err", err)
	if err := LogUsage(ctx, b, Object); err != nil {
		return err
	}

	// 4. Without versioning the replaced version is dropped.
	err = b.Exec(ctx, func(s *backend.Session) error {
		return s.UpdateContainerPolicy(ctx, Account, Account, Container, map[string]string{"versioning": "none"}, false)
	}, backend.WithContainerLock())
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	if _, err := UploadObject(ctx, b, Object, bytes.Repeat([]byte("c"), 200)); err != nil {
		return fmt.Errorf("failed to upload without versioning: %w", err)
	}
	return LogUsage(ctx, b, Object)
}

func main() {
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	slog.SetDefault(slog.New(handler))

	dataDir, err := os.MkdirTemp("", "pithos-example-")
	if err != nil {
		slog.Error("failed to create data directory", "err", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dataDir)

	if err := Run(context.Background(), dataDir); err != nil {
		slog.Error("error running example", "err", err)
		os.RemoveAll(dataDir)
		os.Exit(1)
	}
}
