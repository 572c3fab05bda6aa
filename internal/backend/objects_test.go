package backend_test

import (
	"pithos/internal/backend"
	"pithos/pkg/hashmap"
	pmetadata "pithos/pkg/metadata"
	pqueue "pithos/pkg/queue"
	pstorage "pithos/pkg/storage"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (f fixture) versions(t *testing.T, account string, container string, name string) []int64 {
	t.Helper()

	var versions []backend.ObjectVersion
	f.mustExec(t, func(s *backend.Session) error {
		var err error
		versions, err = s.ListVersions(t.Context(), account, account, container, name)
		return err
	})

	serials := make([]int64, 0, len(versions))
	for _, v := range versions {
		serials = append(serials, v.Version)
	}
	return serials
}

func (f fixture) objectMeta(t *testing.T, user string, account string, container string, name string) (backend.ObjectMeta, error) {
	t.Helper()

	var meta backend.ObjectMeta
	err := f.exec(t, func(s *backend.Session) error {
		var err error
		meta, err = s.GetObjectMeta(t.Context(), user, account, container, name, "", 0, true)
		return err
	})
	return meta, err
}

func (f fixture) requireMapReleased(t *testing.T, hash string) {
	t.Helper()

	raw, err := hashmap.Decode(hash)
	require.NoError(t, err)
	_, err = f.blocks.MapGet(t.Context(), raw)
	require.ErrorIs(t, err, pstorage.ErrNotFound, "hashmap %s must be released", hash)
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.mustExec(t, func(s *backend.Session) error {
		return s.PutAccount(t.Context(), "alice", "alice", nil)
	})
	f.putContainer(t, "alice", "docs", map[string]string{
		backend.PolicyQuota:      "1000",
		backend.PolicyVersioning: backend.VersioningAuto,
	})

	v1 := f.mustPutObject(t, "alice", "docs", "notes.txt", content('a', 500))
	require.Equal(t, int64(500), f.containerUsage(t, "alice", "docs"))

	v2 := f.mustPutObject(t, "alice", "docs", "notes.txt", content('b', 300))
	require.Equal(t, []int64{v1, v2}, f.versions(t, "alice", "docs", "notes.txt"))
	require.Equal(t, int64(800), f.containerUsage(t, "alice", "docs"))

	_, err := f.putObject(t, "alice", "alice", "docs", "notes.txt", content('c', 300), "text/plain")
	var quotaErr *backend.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	require.Equal(t, "container", quotaErr.Resource)
	require.Equal(t, int64(1000), quotaErr.Limit)
	require.Equal(t, int64(1100), quotaErr.Usage)
	require.Equal(t, int64(800), f.containerUsage(t, "alice", "docs"))
	require.Equal(t, []int64{v1, v2}, f.versions(t, "alice", "docs", "notes.txt"), "the refused write leaves no version")

	f.mustExec(t, func(s *backend.Session) error {
		return s.UpdateContainerPolicy(t.Context(), "alice", "alice", "docs",
			map[string]string{backend.PolicyVersioning: backend.VersioningNone}, false)
	})

	v3 := f.mustPutObject(t, "alice", "docs", "notes.txt", content('d', 200))
	require.Equal(t, []int64{v1, v3}, f.versions(t, "alice", "docs", "notes.txt"))
	require.Equal(t, int64(700), f.containerUsage(t, "alice", "docs"))

	f.mustExec(t, func(s *backend.Session) error {
		meta, err := s.GetAccountMeta(t.Context(), "alice", "alice", "", time.Time{}, false)
		require.NoError(t, err)
		require.Equal(t, int64(700), meta.Usage)
		require.Equal(t, int64(200), meta.Bytes, "bytes counts current versions only")
		require.Equal(t, int64(1), meta.Count)
		return nil
	})
}

func TestVersioningRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("auto", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.putContainer(t, "alice", "docs", nil)

		a := content('a', 100)
		b := content('b', 200)
		v1 := f.mustPutObject(t, "alice", "docs", "obj", a)
		v2 := f.mustPutObject(t, "alice", "docs", "obj", b)
		require.Equal(t, []int64{v1, v2}, f.versions(t, "alice", "docs", "obj"))

		f.mustExec(t, func(s *backend.Session) error {
			size, hashes, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "obj", 0)
			require.NoError(t, err)
			require.Equal(t, int64(200), size)
			require.Equal(t, f.uploadBlocks(t, b), hashes)

			size, hashes, err = s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "obj", v1)
			require.NoError(t, err)
			require.Equal(t, int64(100), size)
			require.Equal(t, f.uploadBlocks(t, a), hashes)
			return nil
		})
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.putContainer(t, "alice", "docs", map[string]string{backend.PolicyVersioning: backend.VersioningNone})

		a := content('a', 100)
		f.mustPutObject(t, "alice", "docs", "obj", a)
		for i := range 3 {
			f.mustPutObject(t, "alice", "docs", "obj", content(byte('b'+i), 200))
		}

		require.Len(t, f.versions(t, "alice", "docs", "obj"), 1)
		require.Equal(t, int64(200), f.containerUsage(t, "alice", "docs"))
		f.requireMapReleased(t, f.uploadBlocks(t, a)[0])

		f.mustExec(t, func(s *backend.Session) error {
			_, hashes, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "obj", 0)
			require.NoError(t, err)
			require.Equal(t, f.uploadBlocks(t, content('d', 200)), hashes)
			return nil
		})
	})
}

func TestIncompleteUploadRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	data := slices.Concat(content('x', blockSize), content('y', blockSize), content('z', 10))
	hashes, err := f.b.HashBlocks(data)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	update := backend.ObjectUpdate{Size: int64(len(data)), Type: "application/octet-stream", Hashes: hashes}

	err = f.exec(t, func(s *backend.Session) error {
		_, _, err := s.UpdateObjectHashmap(t.Context(), "alice", "alice", "docs", "big", update)
		return err
	})
	var incomplete *backend.IncompleteUploadError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, hashes, incomplete.Missing)

	_, err = f.objectMeta(t, "alice", "alice", "docs", "big")
	require.ErrorIs(t, err, backend.ErrItemNotExists, "no version is created")

	require.Equal(t, hashes, f.uploadBlocks(t, data))

	var root string
	f.mustExec(t, func(s *backend.Session) error {
		var err error
		_, root, err = s.UpdateObjectHashmap(t.Context(), "alice", "alice", "docs", "big", update)
		return err
	})

	f.mustExec(t, func(s *backend.Session) error {
		size, got, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "big", 0)
		require.NoError(t, err)
		require.Equal(t, int64(len(data)), size)
		require.Equal(t, hashes, got)

		meta, err := s.GetObjectMeta(t.Context(), "alice", "alice", "docs", "big", "", 0, false)
		require.NoError(t, err)
		require.Equal(t, root, meta.Hash)
		return nil
	})
}

func TestInvalidHashmap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	err := f.exec(t, func(s *backend.Session) error {
		_, _, err := s.UpdateObjectHashmap(t.Context(), "alice", "alice", "docs", "x", backend.ObjectUpdate{
			Size:   10,
			Hashes: []string{"zz"},
		})
		return err
	})
	require.ErrorIs(t, err, backend.ErrInvalidHash)
}

func TestInvalidObjectSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", map[string]string{"quota": "1000"})
	hashes := f.uploadBlocks(t, content('a', 100))

	for _, size := range []int64{-5000, -1, blockSize + 1} {
		err := f.exec(t, func(s *backend.Session) error {
			_, _, err := s.UpdateObjectHashmap(t.Context(), "alice", "alice", "docs", "x", backend.ObjectUpdate{
				Size:   size,
				Hashes: hashes,
			})
			return err
		})
		require.ErrorIs(t, err, backend.ErrInvalidArgument, "size %d", size)
	}
	require.Zero(t, f.containerUsage(t, "alice", "docs"))

	_, err := f.putObject(t, "alice", "alice", "docs", "big", content('b', 3000), "text/plain")
	var quotaErr *backend.QuotaError
	require.ErrorAs(t, err, &quotaErr)
}

func TestEmptyObject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	f.mustPutObject(t, "alice", "docs", "empty", nil)

	empty, err := f.b.HashBlocks([]byte{0})
	require.NoError(t, err)

	f.mustExec(t, func(s *backend.Session) error {
		size, hashes, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "empty", 0)
		require.NoError(t, err)
		require.Zero(t, size)
		require.Equal(t, empty, hashes, "the empty block hashes like a block of NUL bytes")
		return nil
	})
}

func TestQuotaBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", map[string]string{backend.PolicyQuota: "100"})

	f.mustPutObject(t, "alice", "docs", "a", content('a', 60))
	f.mustPutObject(t, "alice", "docs", "b", content('b', 40))
	require.Equal(t, int64(100), f.containerUsage(t, "alice", "docs"))

	_, err := f.putObject(t, "alice", "alice", "docs", "c", content('c', 1), "text/plain")
	var quotaErr *backend.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	require.Equal(t, "container", quotaErr.Resource)
	require.Equal(t, int64(100), f.containerUsage(t, "alice", "docs"))

	// Account quota spans containers.
	f.mustExec(t, func(s *backend.Session) error {
		return s.UpdateAccountPolicy(t.Context(), "alice", "alice", map[string]string{backend.PolicyQuota: "120"}, false)
	})
	f.putContainer(t, "alice", "other", nil)
	f.mustPutObject(t, "alice", "other", "d", content('d', 20))

	_, err = f.putObject(t, "alice", "alice", "other", "e", content('e', 1), "text/plain")
	require.ErrorAs(t, err, &quotaErr)
	require.Equal(t, "account", quotaErr.Resource)
	require.Equal(t, int64(120), quotaErr.Limit)
}

func TestShrinkingWriteSkipsQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", map[string]string{
		backend.PolicyQuota:      "100",
		backend.PolicyVersioning: backend.VersioningNone,
	})

	f.mustPutObject(t, "alice", "docs", "a", content('a', 100))
	f.mustPutObject(t, "alice", "docs", "a", content('b', 50))
	require.Equal(t, int64(50), f.containerUsage(t, "alice", "docs"))
}

func TestUpdateObjectMeta(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	v1 := f.mustPutObject(t, "alice", "docs", "a", content('a', 10))

	var v2 int64
	f.mustExec(t, func(s *backend.Session) error {
		var err error
		v2, err = s.UpdateObjectMeta(t.Context(), "alice", "alice", "docs", "a", "pithos",
			map[string]string{"color": "blue", "shape": "round"}, false)
		return err
	})
	require.Greater(t, v2, v1)

	f.mustExec(t, func(s *backend.Session) error {
		_, err := s.UpdateObjectMeta(t.Context(), "alice", "alice", "docs", "a", "pithos",
			map[string]string{"shape": ""}, false)
		return err
	})

	var meta backend.ObjectMeta
	f.mustExec(t, func(s *backend.Session) error {
		var err error
		meta, err = s.GetObjectMeta(t.Context(), "alice", "alice", "docs", "a", "pithos", 0, true)
		return err
	})
	require.Equal(t, map[string]string{"color": "blue"}, meta.Meta)
	require.Equal(t, int64(10), meta.Bytes, "metadata updates keep the content")

	f.mustExec(t, func(s *backend.Session) error {
		old, err := s.GetObjectMeta(t.Context(), "alice", "alice", "docs", "a", "pithos", v1, true)
		require.NoError(t, err)
		require.Empty(t, old.Meta)
		require.Equal(t, meta.Modified, old.Modified, "modified reports the current version")
		require.Equal(t, meta.UUID, old.UUID, "in place edits keep the identity")
		return nil
	})

	f.mustExec(t, func(s *backend.Session) error {
		return s.UpdateObjectChecksum(t.Context(), "alice", "alice", "docs", "a", 0, "md5:abc")
	})
	meta, err := f.objectMeta(t, "alice", "alice", "docs", "a")
	require.NoError(t, err)
	require.Equal(t, "md5:abc", meta.Checksum)
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	v1 := f.mustPutObject(t, "alice", "docs", "a", content('a', 10))

	f.mustExec(t, func(s *backend.Session) error {
		return s.DeleteObject(t.Context(), "alice", "alice", "docs", "a", time.Time{}, "")
	})

	_, err := f.objectMeta(t, "alice", "alice", "docs", "a")
	require.ErrorIs(t, err, backend.ErrItemNotExists)
	require.Equal(t, []int64{v1}, f.versions(t, "alice", "docs", "a"), "tombstones are not listed")
	require.Empty(t, f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}))

	err = f.exec(t, func(s *backend.Session) error {
		return s.DeleteObject(t.Context(), "alice", "alice", "docs", "a", time.Time{}, "")
	})
	require.ErrorIs(t, err, backend.ErrItemNotExists, "deleting twice")

	// The history is still readable.
	f.mustExec(t, func(s *backend.Session) error {
		size, _, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "a", v1)
		require.NoError(t, err)
		require.Equal(t, int64(10), size)
		return nil
	})
}

func TestPurgeObject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	a := content('a', 100)
	b := content('b', 50)
	f.mustPutObject(t, "alice", "docs", "obj", a)
	f.mustPutObject(t, "alice", "docs", "obj", b)
	require.Equal(t, int64(150), f.containerUsage(t, "alice", "docs"))

	f.publisher.Reset()
	f.mustExec(t, func(s *backend.Session) error {
		return s.DeleteObject(t.Context(), "alice", "alice", "docs", "obj", time.Now().Add(time.Hour), "")
	})

	require.Zero(t, f.containerUsage(t, "alice", "docs"))
	_, err := f.objectMeta(t, "alice", "alice", "docs", "obj")
	require.ErrorIs(t, err, backend.ErrItemNotExists)
	f.requireMapReleased(t, f.uploadBlocks(t, a)[0])
	f.requireMapReleased(t, f.uploadBlocks(t, b)[0])

	messages := f.publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, pqueue.EventDiskspace, messages[0].EventType)
	require.Equal(t, int64(-150), messages[0].Payload)
	require.Equal(t, "object purge", messages[0].Details["action"])
}

func TestSharedContentSurvivesRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", map[string]string{backend.PolicyVersioning: backend.VersioningNone})

	a := content('a', 100)
	f.mustPutObject(t, "alice", "docs", "one", a)
	f.mustPutObject(t, "alice", "docs", "two", a)
	f.mustPutObject(t, "alice", "docs", "one", content('b', 10))

	f.mustExec(t, func(s *backend.Session) error {
		_, hashes, err := s.GetObjectHashmap(t.Context(), "alice", "alice", "docs", "two", 0)
		require.NoError(t, err, "a hashmap still referenced must not be released")
		require.Equal(t, f.uploadBlocks(t, a), hashes)
		return nil
	})
}

func TestCopyMoveDeleteWithDelimiter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	_, err := f.putObject(t, "alice", "alice", "docs", "d", nil, "application/directory")
	require.NoError(t, err)
	f.mustPutObject(t, "alice", "docs", "d/a", content('a', 10))
	f.mustPutObject(t, "alice", "docs", "d/b", content('b', 20))
	f.mustPutObject(t, "alice", "docs", "e", content('e', 5))
	require.Equal(t, int64(35), f.containerUsage(t, "alice", "docs"))

	original, err := f.objectMeta(t, "alice", "alice", "docs", "d/a")
	require.NoError(t, err)

	f.mustExec(t, func(s *backend.Session) error {
		_, err := s.CopyObject(t.Context(), "alice",
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "d"},
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "c"},
			backend.CopyOptions{Delimiter: "/"})
		return err
	})
	require.Equal(t, []string{"c", "c/a", "c/b", "d", "d/a", "d/b", "e"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}))
	require.Equal(t, int64(65), f.containerUsage(t, "alice", "docs"), "copies are charged")

	copied, err := f.objectMeta(t, "alice", "alice", "docs", "c/a")
	require.NoError(t, err)
	require.NotEqual(t, original.UUID, copied.UUID, "copies get a new identity")
	require.Equal(t, original.Hash, copied.Hash)

	dir, err := f.objectMeta(t, "alice", "alice", "docs", "c")
	require.NoError(t, err)
	require.Equal(t, "application/directory", dir.Type, "the type of the source is kept")

	f.mustExec(t, func(s *backend.Session) error {
		_, err := s.MoveObject(t.Context(), "alice",
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "d"},
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "m"},
			backend.CopyOptions{Delimiter: "/"})
		return err
	})
	require.Equal(t, []string{"c", "c/a", "c/b", "e", "m", "m/a", "m/b"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}))

	moved, err := f.objectMeta(t, "alice", "alice", "docs", "m/a")
	require.NoError(t, err)
	require.Equal(t, original.UUID, moved.UUID, "moves keep the identity")

	f.mustExec(t, func(s *backend.Session) error {
		return s.DeleteObject(t.Context(), "alice", "alice", "docs", "m", time.Time{}, "/")
	})
	require.Equal(t, []string{"c", "c/a", "c/b", "e"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}))
}

func TestFanOutIsAllOrNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", map[string]string{backend.PolicyQuota: "45"})

	_, err := f.putObject(t, "alice", "alice", "docs", "d", nil, "application/directory")
	require.NoError(t, err)
	f.mustPutObject(t, "alice", "docs", "d/a", content('a', 10))
	f.mustPutObject(t, "alice", "docs", "d/b", content('b', 20))

	err = f.exec(t, func(s *backend.Session) error {
		_, err := s.CopyObject(t.Context(), "alice",
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "d"},
			backend.ObjectRef{Account: "alice", Container: "docs", Name: "c"},
			backend.CopyOptions{Delimiter: "/"})
		return err
	})
	var quotaErr *backend.QuotaError
	require.ErrorAs(t, err, &quotaErr, "the second child takes the container over quota")

	require.Equal(t, []string{"d", "d/a", "d/b"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}), "no child is copied")
	require.Equal(t, int64(30), f.containerUsage(t, "alice", "docs"))
}

func TestCopyAcrossContainers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "src", nil)
	f.putContainer(t, "alice", "dst", nil)
	v1 := f.mustPutObject(t, "alice", "src", "a", content('a', 10))
	f.mustPutObject(t, "alice", "src", "a", content('b', 20))

	f.mustExec(t, func(s *backend.Session) error {
		_, err := s.CopyObject(t.Context(), "alice",
			backend.ObjectRef{Account: "alice", Container: "src", Name: "a"},
			backend.ObjectRef{Account: "alice", Container: "dst", Name: "old"},
			backend.CopyOptions{Version: v1, Type: "text/old", Meta: map[string]string{"k": "v"}})
		return err
	})

	meta, err := f.objectMeta(t, "alice", "alice", "dst", "old")
	require.NoError(t, err)
	require.Equal(t, int64(10), meta.Bytes, "the requested version is copied")
	require.Equal(t, "text/old", meta.Type)
	require.Equal(t, int64(10), f.containerUsage(t, "alice", "dst"))

	err = f.exec(t, func(s *backend.Session) error {
		_, err := s.CopyObject(t.Context(), "alice",
			backend.ObjectRef{Account: "alice", Container: "src", Name: "a"},
			backend.ObjectRef{Account: "alice", Container: "missing", Name: "a"},
			backend.CopyOptions{})
		return err
	})
	require.ErrorIs(t, err, backend.ErrItemNotExists)
}

func TestGetUUID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	f.mustPutObject(t, "alice", "docs", "dir/a", content('a', 10))

	meta, err := f.objectMeta(t, "alice", "alice", "docs", "dir/a")
	require.NoError(t, err)

	f.mustExec(t, func(s *backend.Session) error {
		account, container, name, err := s.GetUUID(t.Context(), "alice", meta.UUID)
		require.NoError(t, err)
		require.Equal(t, []string{"alice", "docs", "dir/a"}, []string{account, container, name})

		_, _, _, err = s.GetUUID(t.Context(), "bob", meta.UUID)
		require.ErrorIs(t, err, backend.ErrNotAllowed)

		_, _, _, err = s.GetUUID(t.Context(), "alice", "nope")
		require.ErrorIs(t, err, backend.ErrItemNotExists)
		return nil
	})
}

func TestDomainObjects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	f.mustPutObject(t, "alice", "docs", "a", content('a', 10))
	f.mustPutObject(t, "alice", "docs", "b", content('b', 10))

	f.mustExec(t, func(s *backend.Session) error {
		_, err := s.UpdateObjectMeta(t.Context(), "alice", "alice", "docs", "a", "plankton", map[string]string{"kind": "image"}, false)
		if err != nil {
			return err
		}
		return s.UpdateObjectPermissions(t.Context(), "alice", "alice", "docs", "a",
			pmetadata.Permissions{Read: []string{"bob"}})
	})

	f.mustExec(t, func(s *backend.Session) error {
		objects, err := s.GetDomainObjects(t.Context(), "bob", "plankton")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		require.Equal(t, "alice/docs/a", objects[0].Path)
		require.Equal(t, "a", objects[0].Meta.Name)
		require.Equal(t, map[string]string{"kind": "image"}, objects[0].Meta.Meta)
		require.Equal(t, []string{"bob"}, objects[0].Permissions.Read)

		objects, err = s.GetDomainObjects(t.Context(), "carol", "plankton")
		require.NoError(t, err)
		require.Empty(t, objects)
		return nil
	})
}
