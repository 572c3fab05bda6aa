package storage_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"pithos/internal/storage"
	pstorage "pithos/pkg/storage"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStoragePutAndGet(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)
	namespace := "blocks"

	payload := []byte("hello local storage")
	sum := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(sum[:])

	// Put should succeed and create the expected path on disk.
	require.NoError(t, engine.PutObject(t.Context(), namespace, hashHex, payload), "PutObject error")

	subdir := hashHex[:2]
	objPath := filepath.Join(dataDir, namespace, subdir, hashHex)

	info, err := os.Stat(objPath)
	require.NoError(t, err, "expected object file to exist")
	require.False(t, info.IsDir(), "object path should be a file")

	// Get should return the same payload.
	got, err := engine.GetObject(t.Context(), namespace, hashHex)
	require.NoError(t, err, "GetObject error")
	require.Equal(t, payload, got, "payload mismatch")

	ok, err := engine.HasObject(t.Context(), namespace, hashHex)
	require.NoError(t, err, "HasObject error")
	require.True(t, ok, "expected object to exist")

	// No temp files should be left behind.
	entries, err := os.ReadDir(filepath.Dir(objPath))
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected only the payload file")
}

func TestLocalFileStorageInvalidHash(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)

	// Hash shorter than 2 characters should be rejected by ObjectPath.
	err := engine.PutObject(t.Context(), "blocks", "a", []byte("data"))
	require.Error(t, err, "expected error for too-short hash")

	_, err = engine.GetObject(t.Context(), "blocks", "a")
	require.Error(t, err, "expected error for too-short hash on GetObject")
}

func TestLocalFileStorageMissingObject(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())

	_, err := engine.GetObject(t.Context(), "maps", "deadbeef")
	require.ErrorIs(t, err, pstorage.ErrNotFound, "expected not found for unknown hash")

	ok, err := engine.HasObject(t.Context(), "maps", "deadbeef")
	require.NoError(t, err)
	require.False(t, ok, "unknown hash should not exist")

	// Deleting an unknown payload is not an error.
	require.NoError(t, engine.DeleteObject(t.Context(), "maps", "deadbeef"))
}

func TestLocalFileStorageDelete(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())
	require.NoError(t, engine.PutObject(t.Context(), "maps", "abcdef", []byte("x")))
	require.NoError(t, engine.DeleteObject(t.Context(), "maps", "abcdef"))

	_, err := engine.GetObject(t.Context(), "maps", "abcdef")
	require.ErrorIs(t, err, pstorage.ErrNotFound)
}

func TestObjectKeyLayout(t *testing.T) {
	t.Parallel()

	key, err := storage.ObjectKey("pithos", "blocks", "abcdef")
	require.NoError(t, err)
	require.Equal(t, "pithos/blocks/ab/abcdef", key)

	key, err = storage.ObjectKey("", "maps", "abcdef")
	require.NoError(t, err)
	require.Equal(t, "maps/ab/abcdef", key)

	_, err = storage.ObjectKey("", "maps", "a")
	require.Error(t, err, "expected error for too-short hash")
}
