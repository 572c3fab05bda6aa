package hashmap_test

import (
	"bytes"
	"crypto/sha256"
	"pithos/pkg/hashmap"
	"testing"

	"github.com/stretchr/testify/require"
)

func sum(data []byte) []byte {
	s := sha256.Sum256(data)
	return s[:]
}

func newMap(t *testing.T) *hashmap.HashMap {
	t.Helper()
	m, err := hashmap.New(4, "sha256")
	require.NoError(t, err, "New error")
	return m
}

func TestHashEmptyAndSingle(t *testing.T) {
	t.Parallel()

	m := newMap(t)
	require.Equal(t, sum(nil), m.Hash(), "empty map should hash to hash of empty string")

	h := sum([]byte("block"))
	m.Extend(h)
	require.Equal(t, h, m.Hash(), "single entry should be returned unchanged")
}

func TestHashPadsToPowerOfTwo(t *testing.T) {
	t.Parallel()

	a, b, c := sum([]byte("a")), sum([]byte("b")), sum([]byte("c"))
	zero := make([]byte, sha256.Size)

	m := newMap(t)
	m.Extend(a, b, c)

	left := sum(append(append([]byte{}, a...), b...))
	right := sum(append(append([]byte{}, c...), zero...))
	want := sum(append(append([]byte{}, left...), right...))

	require.Equal(t, want, m.Hash(), "root hash mismatch")
	require.Equal(t, m.Hash(), m.Hash(), "hash must be deterministic")
	require.Equal(t, 3, m.Len(), "padding must not change the map")
}

func TestHashBlockStripsTrailingZeros(t *testing.T) {
	t.Parallel()

	m := newMap(t)
	require.Equal(t, m.HashBlock([]byte("ab")), m.HashBlock([]byte("ab\x00\x00")), "trailing NULs must not change the block hash")
	require.Equal(t, sum(nil), m.HashBlock(nil), "empty block hashes like the empty string")
}

func TestLoadSplitsIntoBlocks(t *testing.T) {
	t.Parallel()

	m := newMap(t)
	require.NoError(t, m.Load(bytes.NewReader([]byte("abcdefghij"))), "Load error")
	require.Equal(t, 3, m.Len(), "expected three blocks of size 4")
	require.Equal(t, sum([]byte("ij")), m.Hashes()[2], "last block hash mismatch")
}

func TestDecodeRejectsInvalidHex(t *testing.T) {
	t.Parallel()

	_, err := hashmap.Decode("zz")
	require.ErrorIs(t, err, hashmap.ErrInvalidHash)

	raw, err := hashmap.DecodeAll([]string{"00ff"})
	require.NoError(t, err)
	require.Equal(t, []string{"00ff"}, hashmap.EncodeAll(raw))
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := hashmap.New(4, "whirlpool")
	require.Error(t, err, "expected error for unknown algorithm")

	_, err = hashmap.New(0, "sha256")
	require.Error(t, err, "expected error for zero block size")
}
