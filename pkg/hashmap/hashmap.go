package hashmap

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ErrInvalidHash is returned when a hash argument is not valid hexadecimal.
var ErrInvalidHash = errors.New("invalid hash")

// DefaultAlgorithm is the hash algorithm used when none is configured.
const DefaultAlgorithm = "sha256"

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 4 * 1024 * 1024

// NewHashFunc returns a constructor for the named hash algorithm.
func NewHashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", "sha256":
		return sha256.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha512":
		return sha512.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", algorithm)
	}
}

// HashMap is an ordered list of block hashes that together describe the
// content of an object. The list reduces to a single root hash with a
// binary Merkle construction.
type HashMap struct {
	blockSize int
	newHash   func() hash.Hash
	hashSize  int
	hashes    [][]byte
}

// New creates an empty HashMap for the given block size and algorithm.
func New(blockSize int, algorithm string) (*HashMap, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size: %d", blockSize)
	}

	newHash, err := NewHashFunc(algorithm)
	if err != nil {
		return nil, err
	}

	return &HashMap{
		blockSize: blockSize,
		newHash:   newHash,
		hashSize:  newHash().Size(),
	}, nil
}

// BlockSize returns the configured block size in bytes.
func (m *HashMap) BlockSize() int {
	return m.blockSize
}

// HashSize returns the length in bytes of a single raw hash.
func (m *HashMap) HashSize() int {
	return m.hashSize
}

// Len returns the number of block hashes in the map.
func (m *HashMap) Len() int {
	return len(m.hashes)
}

// Hashes returns the raw block hashes in order.
func (m *HashMap) Hashes() [][]byte {
	return m.hashes
}

// Extend appends raw block hashes to the map.
func (m *HashMap) Extend(hashes ...[]byte) {
	m.hashes = append(m.hashes, hashes...)
}

// HashRaw hashes data as-is.
func (m *HashMap) HashRaw(data []byte) []byte {
	h := m.newHash()
	h.Write(data)
	return h.Sum(nil)
}

// HashBlock hashes a block after removing its trailing NUL padding, so a
// short final block and the same block zero-filled to full size share an
// address.
func (m *HashMap) HashBlock(data []byte) []byte {
	return m.HashRaw(bytes.TrimRight(data, "\x00"))
}

// Hash computes the root hash of the map. An empty map hashes to the hash of
// the empty string and a single-entry map hashes to that entry.
func (m *HashMap) Hash() []byte {
	switch len(m.hashes) {
	case 0:
		return m.HashRaw(nil)
	case 1:
		return bytes.Clone(m.hashes[0])
	}

	size := 2
	for size < len(m.hashes) {
		size *= 2
	}

	level := make([][]byte, 0, size)
	level = append(level, m.hashes...)
	zero := make([]byte, m.hashSize)
	for len(level) < size {
		level = append(level, zero)
	}

	buf := make([]byte, 0, 2*m.hashSize)
	for len(level) > 1 {
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			buf = append(buf[:0], level[i]...)
			buf = append(buf, level[i+1]...)
			next = append(next, m.HashRaw(buf))
		}
		level = next
	}

	return level[0]
}

// Load reads r to EOF in block-sized chunks and appends the hash of every
// block to the map.
func (m *HashMap) Load(r io.Reader) error {
	block := make([]byte, m.blockSize)
	for {
		n, err := io.ReadFull(r, block)
		if n > 0 {
			m.hashes = append(m.hashes, m.HashBlock(block[:n]))
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}

// HexHashes returns the block hashes hex encoded.
func (m *HashMap) HexHashes() []string {
	return EncodeAll(m.hashes)
}

// Decode parses a hex encoded hash.
func Decode(hashHex string) ([]byte, error) {
	raw, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hashHex)
	}
	return raw, nil
}

// DecodeAll parses a list of hex encoded hashes.
func DecodeAll(hashes []string) ([][]byte, error) {
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		raw, err := Decode(h)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// EncodeAll hex encodes a list of raw hashes.
func EncodeAll(hashes [][]byte) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, hex.EncodeToString(h))
	}
	return out
}
