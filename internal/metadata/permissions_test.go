package metadata_test

import (
	pmetadata "pithos/pkg/metadata"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccessSetGetCheck(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	inTx(t, store, func(tx pmetadata.Tx) {
		perms := tx.Permissions()

		err := perms.AccessSet(t.Context(), "alice/c/o", pmetadata.Permissions{
			Read:  []string{"bob", "alice:team"},
			Write: []string{"carol"},
		})
		require.NoError(t, err)
		require.NoError(t, perms.GroupAddMany(t.Context(), "alice", "team", []string{"dave", "erin"}))

		got, err := perms.AccessGet(t.Context(), "alice/c/o")
		require.NoError(t, err)
		require.Equal(t, []string{"alice:team", "bob"}, got.Read)
		require.Equal(t, []string{"carol"}, got.Write)

		for _, tc := range []struct {
			member string
			mode   pmetadata.AccessMode
			want   bool
		}{
			{"bob", pmetadata.AccessRead, true},
			{"bob", pmetadata.AccessWrite, false},
			{"carol", pmetadata.AccessWrite, true},
			{"dave", pmetadata.AccessRead, true},
			{"mallory", pmetadata.AccessRead, false},
		} {
			ok, err := perms.AccessCheck(t.Context(), "alice/c/o", tc.mode, tc.member)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok, "access of %s", tc.member)
		}

		members, err := perms.AccessMembers(t.Context(), "alice/c/o")
		require.NoError(t, err)
		require.Equal(t, []string{"bob", "carol", "dave", "erin"}, members)

		require.NoError(t, perms.AccessSet(t.Context(), "alice/c/o", pmetadata.Permissions{Read: []string{"*"}}))
		ok, err := perms.AccessCheck(t.Context(), "alice/c/o", pmetadata.AccessRead, "anyone")
		require.NoError(t, err)
		require.True(t, ok, "the wildcard grants everyone")

		require.NoError(t, perms.AccessSet(t.Context(), "alice/c/o", pmetadata.Permissions{}))
		got, err = perms.AccessGet(t.Context(), "alice/c/o")
		require.NoError(t, err)
		require.True(t, got.Empty(), "empty permissions clear the list")
	})
}

func TestAccessInherit(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	inTx(t, store, func(tx pmetadata.Tx) {
		perms := tx.Permissions()
		for _, p := range []string{"alice/c", "alice/c/dir/", "alice/c/dir", "alice/other"} {
			require.NoError(t, perms.AccessSet(t.Context(), p, pmetadata.Permissions{Read: []string{"bob"}}))
		}

		paths, err := perms.AccessInherit(t.Context(), "alice/c/dir/file")
		require.NoError(t, err)
		require.Equal(t, []string{"alice/c", "alice/c/dir", "alice/c/dir/"}, paths)

		paths, err = perms.AccessInherit(t.Context(), "alice")
		require.NoError(t, err)
		require.Empty(t, paths)
	})
}

func TestAccessListPaths(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	inTx(t, store, func(tx pmetadata.Tx) {
		nodes := tx.Nodes()
		perms := tx.Permissions()

		mkpath(t, nodes, "bob", "bob/docs", "bob/docs/readme")
		require.NoError(t, perms.AccessSet(t.Context(), "alice/c/o", pmetadata.Permissions{Read: []string{"bob"}}))
		require.NoError(t, perms.AccessSet(t.Context(), "carol/x", pmetadata.Permissions{Write: []string{"carol:friends"}}))
		require.NoError(t, perms.AccessSet(t.Context(), "dave/y", pmetadata.Permissions{Read: []string{"erin"}}))
		require.NoError(t, perms.GroupAddMany(t.Context(), "carol", "friends", []string{"bob"}))

		paths, err := perms.AccessListPaths(t.Context(), "bob", "", false, false)
		require.NoError(t, err)
		require.Equal(t, []string{"alice/c/o", "carol/x"}, paths)

		paths, err = perms.AccessListPaths(t.Context(), "bob", "alice/", false, false)
		require.NoError(t, err)
		require.Equal(t, []string{"alice/c/o"}, paths)

		paths, err = perms.AccessListPaths(t.Context(), "bob", "carol/x/sub", false, false)
		require.NoError(t, err)
		require.Equal(t, []string{"carol/x"}, paths, "ancestors of the prefix are kept")

		paths, err = perms.AccessListPaths(t.Context(), "bob", "", true, true)
		require.NoError(t, err)
		require.Equal(t, []string{"alice/c/o", "bob/docs", "bob/docs/readme", "carol/x"}, paths)

		shared, err := perms.AccessListShared(t.Context(), "dave/")
		require.NoError(t, err)
		require.Equal(t, []string{"dave/y"}, shared)

		require.NoError(t, perms.AccessClearBulk(t.Context(), []string{"alice/c/o", "carol/x"}))
		paths, err = perms.AccessListPaths(t.Context(), "bob", "", false, false)
		require.NoError(t, err)
		require.Empty(t, paths)
	})
}

func TestPublicTokens(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	inTx(t, store, func(tx pmetadata.Tx) {
		perms := tx.Permissions()
		const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

		token, err := perms.PublicSet(t.Context(), "alice/c/o", 16, alphabet)
		require.NoError(t, err)
		require.Len(t, token, 16)
		for _, r := range token {
			require.True(t, strings.ContainsRune(alphabet, r), "token uses the alphabet")
		}

		again, err := perms.PublicSet(t.Context(), "alice/c/o", 16, alphabet)
		require.NoError(t, err)
		require.Equal(t, token, again, "an existing token is reused")

		path, ok, err := perms.PublicPath(t.Context(), token)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "alice/c/o", path)

		_, err = perms.PublicSet(t.Context(), "alice/c/p", 16, alphabet)
		require.NoError(t, err)

		links, err := perms.PublicList(t.Context(), "alice/c/")
		require.NoError(t, err)
		require.Len(t, links, 2)
		require.Equal(t, "alice/c/o", links[0].Path)

		require.NoError(t, perms.PublicUnset(t.Context(), "alice/c/o"))
		_, ok, err = perms.PublicGet(t.Context(), "alice/c/o")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, perms.PublicUnsetBulk(t.Context(), []string{"alice/c/p"}))
		links, err = perms.PublicList(t.Context(), "")
		require.NoError(t, err)
		require.Empty(t, links)
	})
}

func TestGroups(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	inTx(t, store, func(tx pmetadata.Tx) {
		perms := tx.Permissions()

		require.NoError(t, perms.GroupAddMany(t.Context(), "alice", "team", []string{"bob", "carol"}))
		require.NoError(t, perms.GroupAddMany(t.Context(), "alice", "ops", []string{"dave"}))

		groups, err := perms.GroupDict(t.Context(), "alice")
		require.NoError(t, err)
		require.Equal(t, map[string][]string{"ops": {"dave"}, "team": {"bob", "carol"}}, groups)

		require.NoError(t, perms.GroupDelete(t.Context(), "alice", "ops"))
		groups, err = perms.GroupDict(t.Context(), "alice")
		require.NoError(t, err)
		require.Len(t, groups, 1)

		require.NoError(t, perms.GroupDestroy(t.Context(), "alice"))
		groups, err = perms.GroupDict(t.Context(), "alice")
		require.NoError(t, err)
		require.Empty(t, groups)
	})
}
