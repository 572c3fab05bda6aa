package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"pithos/pkg/hashmap"
	"pithos/pkg/storage"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// searchConcurrency bounds the number of concurrent existence checks issued
// by BlockSearch.
const searchConcurrency = 16

// Store implements storage.BlockStore on top of a StorageEngine. Blocks are
// addressed by their hash (trailing NUL bytes ignored) and hashmaps are kept
// as the concatenation of their raw block hashes.
type Store struct {
	engine   storage.StorageEngine
	hasher   *hashmap.HashMap
	compress bool

	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ storage.BlockStore = (*Store)(nil)

type StoreOption func(*Store)

// WithCompression stores blocks zstd compressed.
func WithCompression(enabled bool) StoreOption {
	return func(s *Store) {
		s.compress = enabled
	}
}

// NewStore creates a block store with the given block size and hash
// algorithm.
func NewStore(engine storage.StorageEngine, blockSize int, algorithm string, opts ...StoreOption) (*Store, error) {
	hasher, err := hashmap.New(blockSize, algorithm)
	if err != nil {
		return nil, err
	}

	s := &Store{engine: engine, hasher: hasher}
	for _, opt := range opts {
		opt(s)
	}

	s.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	s.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}

	return s, nil
}

func (s *Store) BlockSize() int {
	return s.hasher.BlockSize()
}

func (s *Store) encode(data []byte) []byte {
	if !s.compress {
		return data
	}
	enc := s.encoderPool.Get().(*zstd.Encoder)
	defer s.encoderPool.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)))
}

func (s *Store) decode(data []byte) ([]byte, error) {
	if !s.compress {
		return data, nil
	}
	dec := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

func (s *Store) BlockGet(ctx context.Context, hash []byte) ([]byte, error) {
	data, err := s.engine.GetObject(ctx, storage.BlocksNamespace, hex.EncodeToString(hash))
	if err != nil {
		return nil, err
	}

	block, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decompress block %x: %w", hash, err)
	}
	return block, nil
}

func (s *Store) BlockPut(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) > s.hasher.BlockSize() {
		return nil, fmt.Errorf("block of %d bytes exceeds block size %d", len(data), s.hasher.BlockSize())
	}

	hash := s.hasher.HashBlock(data)
	hashHex := hex.EncodeToString(hash)

	exists, err := s.engine.HasObject(ctx, storage.BlocksNamespace, hashHex)
	if err != nil {
		return nil, err
	}
	if exists {
		return hash, nil
	}

	if err := s.engine.PutObject(ctx, storage.BlocksNamespace, hashHex, s.encode(data)); err != nil {
		return nil, fmt.Errorf("store block %s: %w", hashHex, err)
	}
	return hash, nil
}

// BlockUpdate splices data into the block at offset. The result keeps the
// length of the original block unless data extends past it, and is
// truncated to the block size.
func (s *Store) BlockUpdate(ctx context.Context, hash []byte, offset int, data []byte) ([]byte, error) {
	blockSize := s.hasher.BlockSize()
	if offset < 0 || offset >= blockSize {
		return nil, fmt.Errorf("offset %d outside block of size %d", offset, blockSize)
	}

	block, err := s.BlockGet(ctx, hash)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return hash, nil
	}

	if offset > len(block) {
		block = append(block, make([]byte, offset-len(block))...)
	}

	updated := make([]byte, 0, blockSize)
	updated = append(updated, block[:offset]...)
	updated = append(updated, data...)
	if len(updated) > blockSize {
		updated = updated[:blockSize]
	} else if len(updated) < len(block) {
		updated = append(updated, block[len(updated):]...)
	}

	return s.BlockPut(ctx, updated)
}

func (s *Store) BlockSearch(ctx context.Context, hashes [][]byte) ([][]byte, error) {
	present := make([]bool, len(hashes))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(searchConcurrency)
	for i, h := range hashes {
		eg.Go(func() error {
			ok, err := s.engine.HasObject(ctx, storage.BlocksNamespace, hex.EncodeToString(h))
			if err != nil {
				return err
			}
			present[i] = ok
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("search blocks: %w", err)
	}

	missing := make([][]byte, 0)
	seen := make(map[string]struct{})
	for i, h := range hashes {
		if present[i] {
			continue
		}
		if _, dup := seen[string(h)]; dup {
			continue
		}
		seen[string(h)] = struct{}{}
		missing = append(missing, h)
	}
	return missing, nil
}

func (s *Store) MapGet(ctx context.Context, hash []byte) ([][]byte, error) {
	data, err := s.engine.GetObject(ctx, storage.MapsNamespace, hex.EncodeToString(hash))
	if err != nil {
		return nil, err
	}

	size := s.hasher.HashSize()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("corrupt hashmap %x: %d bytes", hash, len(data))
	}

	hashes := make([][]byte, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		hashes = append(hashes, bytes.Clone(data[i:i+size]))
	}
	return hashes, nil
}

func (s *Store) MapPut(ctx context.Context, hash []byte, hashes [][]byte) error {
	return s.engine.PutObject(ctx, storage.MapsNamespace, hex.EncodeToString(hash), bytes.Join(hashes, nil))
}

func (s *Store) MapDelete(ctx context.Context, hash []byte) error {
	err := s.engine.DeleteObject(ctx, storage.MapsNamespace, hex.EncodeToString(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
