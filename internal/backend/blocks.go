package backend

import (
	"context"
	"errors"
	"fmt"

	"pithos/pkg/hashmap"
	"pithos/pkg/storage"
)

func decodeHash(hash string) ([]byte, error) {
	return hashmap.Decode(hash)
}

func (b *Backend) newHashMap() (*hashmap.HashMap, error) {
	return hashmap.New(b.cfg.BlockSize, b.cfg.HashAlgorithm)
}

// GetBlock returns the block stored under the hex hash.
func (b *Backend) GetBlock(ctx context.Context, hash string) ([]byte, error) {
	raw, err := decodeHash(hash)
	if err != nil {
		return nil, err
	}

	block, err := b.cfg.Blocks.BlockGet(ctx, raw)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("block %s: %w", hash, ErrItemNotExists)
	}
	return block, err
}

// PutBlock stores one block and returns its hex hash.
func (b *Backend) PutBlock(ctx context.Context, data []byte) (string, error) {
	if len(data) > b.cfg.BlockSize {
		return "", fmt.Errorf("%w: block of %d bytes exceeds block size %d", ErrInvalidArgument, len(data), b.cfg.BlockSize)
	}

	raw, err := b.cfg.Blocks.BlockPut(ctx, data)
	if err != nil {
		return "", err
	}
	b.metrics.BlockWritten(len(data))
	return fmt.Sprintf("%x", raw), nil
}

// UpdateBlock writes data into the block at offset and returns the hex
// hash of the resulting block. A write covering the whole block stores it
// as new.
func (b *Backend) UpdateBlock(ctx context.Context, hash string, data []byte, offset int) (string, error) {
	if offset == 0 && len(data) == b.cfg.BlockSize {
		return b.PutBlock(ctx, data)
	}

	raw, err := decodeHash(hash)
	if err != nil {
		return "", err
	}

	updated, err := b.cfg.Blocks.BlockUpdate(ctx, raw, offset, data)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("block %s: %w", hash, ErrItemNotExists)
	}
	if err != nil {
		return "", err
	}
	b.metrics.BlockWritten(len(data))
	return fmt.Sprintf("%x", updated), nil
}

// HashBlocks returns the hex hashes of data split into blocks, as stored
// by PutBlock. Empty data yields no hashes.
func (b *Backend) HashBlocks(data []byte) ([]string, error) {
	m, err := b.newHashMap()
	if err != nil {
		return nil, err
	}
	for start := 0; start < len(data); start += b.cfg.BlockSize {
		end := min(start+b.cfg.BlockSize, len(data))
		m.Extend(m.HashBlock(data[start:end]))
	}
	return m.HexHashes(), nil
}
