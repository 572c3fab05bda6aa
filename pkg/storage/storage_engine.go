package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a block or hashmap is not present.
var ErrNotFound = errors.New("not found")

// Namespaces used by block stores on top of a StorageEngine.
const (
	BlocksNamespace = "blocks"
	MapsNamespace   = "maps"
)

// StorageEngine defines the interface for a storage backend that manages raw
// payloads organized into namespaces, identified by their hexadecimal
// hashes.
type StorageEngine interface {
	// PutObject stores the raw payload identified by its hexadecimal hash.
	PutObject(ctx context.Context, namespace string, hashHex string, data []byte) error

	// GetObject retrieves the raw payload previously stored under the
	// hexadecimal hash. A missing payload yields an error wrapping
	// ErrNotFound.
	GetObject(ctx context.Context, namespace string, hashHex string) ([]byte, error)

	// HasObject reports whether a payload is stored under the hash.
	HasObject(ctx context.Context, namespace string, hashHex string) (bool, error)

	// DeleteObject removes the payload associated with the given hash.
	// Deleting a missing payload is not an error.
	DeleteObject(ctx context.Context, namespace string, hashHex string) error
}

// BlockStore is content-addressed storage of fixed-size blocks and of the
// hashmaps that list an object's blocks. All hashes are raw bytes.
type BlockStore interface {
	// BlockGet returns a stored block or an error wrapping ErrNotFound.
	BlockGet(ctx context.Context, hash []byte) ([]byte, error)

	// BlockPut stores one block and returns its hash.
	BlockPut(ctx context.Context, data []byte) ([]byte, error)

	// BlockUpdate overwrites part of an existing block starting at offset
	// and returns the hash of the resulting block.
	BlockUpdate(ctx context.Context, hash []byte, offset int, data []byte) ([]byte, error)

	// BlockSearch returns the hashes from the list that are not stored.
	BlockSearch(ctx context.Context, hashes [][]byte) ([][]byte, error)

	// MapGet returns the block hashes stored under a root hash or an error
	// wrapping ErrNotFound.
	MapGet(ctx context.Context, hash []byte) ([][]byte, error)

	// MapPut stores the block hashes under a root hash.
	MapPut(ctx context.Context, hash []byte, hashes [][]byte) error

	// MapDelete releases the hashmap stored under a root hash.
	MapDelete(ctx context.Context, hash []byte) error

	// BlockSize is the maximum size of a block.
	BlockSize() int
}
