package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pithos/pkg/storage"
)

// LocalFileStorage is a StorageEngine implementation that stores payloads on
// the local filesystem under a content-addressed layout rooted at dataDir.
// Each namespace gets its own subdirectory, and within each namespace
// payloads are addressed by their full hexadecimal hash, with the first two
// characters used as a subdirectory prefix.
type LocalFileStorage struct {
	dataDir string
}

var _ storage.StorageEngine = (*LocalFileStorage)(nil)

// NewLocalFileStorage creates a new LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

// ObjectPath computes the full filesystem path for the payload identified by
// hashHex within the given namespace.
func ObjectPath(directory string, namespace string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	subdir := hashHex[:2]
	return filepath.Join(directory, namespace, subdir, hashHex), nil
}

func (s *LocalFileStorage) PutObject(_ context.Context, namespace string, hashHex string, data []byte) error {
	objPath, err := ObjectPath(s.dataDir, namespace, hashHex)
	if err != nil {
		return err
	}
	return WriteFileAtomic(objPath, data)
}

func (s *LocalFileStorage) GetObject(_ context.Context, namespace string, hashHex string) ([]byte, error) {
	objPath, err := ObjectPath(s.dataDir, namespace, hashHex)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, hashHex, storage.ErrNotFound)
	}
	return data, err
}

func (s *LocalFileStorage) HasObject(_ context.Context, namespace string, hashHex string) (bool, error) {
	objPath, err := ObjectPath(s.dataDir, namespace, hashHex)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(objPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *LocalFileStorage) DeleteObject(_ context.Context, namespace string, hashHex string) error {
	objPath, err := ObjectPath(s.dataDir, namespace, hashHex)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
