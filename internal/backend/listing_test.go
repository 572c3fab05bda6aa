package backend_test

import (
	"fmt"
	"pithos/internal/backend"
	pmetadata "pithos/pkg/metadata"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListObjectsPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)

	want := make([]string, 0, 25)
	for i := range 25 {
		name := fmt.Sprintf("obj%02d", i)
		f.mustPutObject(t, "alice", "docs", name, content('a', 1))
		want = append(want, name)
	}

	var (
		got    []string
		marker string
		pages  int
	)
	for {
		page := f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Marker: marker, Limit: 7})
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 7)
		got = append(got, page...)
		marker = page[len(page)-1]
		pages++
	}

	require.Equal(t, want, got, "pages neither repeat nor skip entries")
	require.Equal(t, 4, pages)
}

func TestListObjectsDelimiter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	for _, name := range []string{"a/1", "a/2", "b", "c/x/y"} {
		f.mustPutObject(t, "alice", "docs", name, content('a', 10))
	}

	require.Equal(t, []string{"a/", "b", "c/"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Delimiter: "/", Virtual: true}))
	require.Equal(t, []string{"b"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Delimiter: "/"}))
	require.Equal(t, []string{"c/x/"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Prefix: "c/", Delimiter: "/", Virtual: true}))
	require.Equal(t, []string{"b", "c/"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Delimiter: "/", Virtual: true, Marker: "a/"}),
		"a marker naming a common prefix skips its members")

	f.mustExec(t, func(s *backend.Session) error {
		metas, err := s.ListObjectMeta(t.Context(), "alice", "alice", "docs", backend.ListObjectsOptions{Delimiter: "/", Virtual: true})
		require.NoError(t, err)
		require.Len(t, metas, 3)
		require.Equal(t, "a/", metas[0].Subdir)
		require.Equal(t, "b", metas[1].Name)
		require.EqualValues(t, 10, metas[1].Bytes)
		require.NotEmpty(t, metas[1].UUID)
		return nil
	})
}

func TestListObjectsFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	for i, name := range []string{"a", "b", "c", "d"} {
		f.mustPutObject(t, "alice", "docs", name, content('a', 10*(i+1)))
	}

	colors := map[string]string{"b": "red", "c": "blue"}
	for name, color := range colors {
		f.mustExec(t, func(s *backend.Session) error {
			_, err := s.UpdateObjectMeta(t.Context(), "alice", "alice", "docs", name, "pithos", map[string]string{"color": color}, false)
			return err
		})
	}

	tests := []struct {
		name string
		opts backend.ListObjectsOptions
		want []string
	}{
		{
			name: "has key",
			opts: backend.ListObjectsOptions{Domain: "pithos", Keys: []string{"color"}},
			want: []string{"b", "c"},
		},
		{
			name: "key equals",
			opts: backend.ListObjectsOptions{Domain: "pithos", Keys: []string{"color=red"}},
			want: []string{"b"},
		},
		{
			name: "missing key",
			opts: backend.ListObjectsOptions{Domain: "pithos", Keys: []string{"!color"}},
			want: []string{"a", "d"},
		},
		{
			name: "key differs",
			opts: backend.ListObjectsOptions{Domain: "pithos", Keys: []string{"color!=red"}},
			want: []string{"c"},
		},
		{
			name: "other domain",
			opts: backend.ListObjectsOptions{Domain: "other", Keys: []string{"color"}},
			want: []string{},
		},
		{
			name: "size range",
			opts: backend.ListObjectsOptions{SizeRange: &pmetadata.SizeRange{Min: 20, Max: 40}},
			want: []string{"b", "c"},
		},
		{
			name: "open size range",
			opts: backend.ListObjectsOptions{SizeRange: &pmetadata.SizeRange{Min: 30}},
			want: []string{"c", "d"},
		},
		{
			name: "prefix",
			opts: backend.ListObjectsOptions{Prefix: "d"},
			want: []string{"d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, f.listNames(t, "alice", "alice", "docs", tt.opts))
		})
	}
}

func TestListObjectsUntil(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	f.mustPutObject(t, "alice", "docs", "old", content('a', 10))

	before := time.Now()
	time.Sleep(time.Millisecond)
	f.mustPutObject(t, "alice", "docs", "new", content('b', 10))
	f.mustExec(t, func(s *backend.Session) error {
		return s.DeleteObject(t.Context(), "alice", "alice", "docs", "old", time.Time{}, "")
	})

	require.Equal(t, []string{"new"}, f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{}))
	require.Equal(t, []string{"old"}, f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Until: before}))

	err := f.exec(t, func(s *backend.Session) error {
		_, err := s.ListObjects(t.Context(), "bob", "alice", "docs", backend.ListObjectsOptions{Until: before})
		return err
	})
	require.ErrorIs(t, err, backend.ErrNotAllowed)
}

func TestListSharedObjects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	for _, name := range []string{"a", "b", "c"} {
		f.mustPutObject(t, "alice", "docs", name, content('a', 10))
	}
	f.share(t, "a", pmetadata.Permissions{Read: []string{"bob"}})
	f.mustExec(t, func(s *backend.Session) error {
		return s.UpdateObjectPublic(t.Context(), "alice", "alice", "docs", "c", true)
	})

	require.Equal(t, []string{"a"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Shared: true}))
	require.Equal(t, []string{"c"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Public: true}))
	require.Equal(t, []string{"a", "c"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Shared: true, Public: true}))
	require.Equal(t, []string{"a"},
		f.listNames(t, "bob", "alice", "docs", backend.ListObjectsOptions{}))

	err := f.exec(t, func(s *backend.Session) error {
		_, err := s.ListObjects(t.Context(), "carol", "alice", "docs", backend.ListObjectsOptions{})
		return err
	})
	require.ErrorIs(t, err, backend.ErrNotAllowed)

	f.mustExec(t, func(s *backend.Session) error {
		paths, err := s.ListObjectPermissions(t.Context(), "alice", "alice", "docs", "")
		require.NoError(t, err)
		require.Equal(t, []string{"alice/docs/a"}, paths)
		return nil
	})
}

func TestListSharedAndPublicPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.putContainer(t, "alice", "docs", nil)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.mustPutObject(t, "alice", "docs", name, content('a', 10))
	}
	f.share(t, "a", pmetadata.Permissions{Read: []string{"bob"}})
	f.share(t, "c", pmetadata.Permissions{Read: []string{"bob"}})
	f.mustExec(t, func(s *backend.Session) error {
		for _, name := range []string{"b", "d"} {
			if err := s.UpdateObjectPublic(t.Context(), "alice", "alice", "docs", name, true); err != nil {
				return err
			}
		}
		return nil
	})

	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			var visited []string
			marker := ""
			for range 10 {
				page := f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{
					Shared: true,
					Public: true,
					Marker: marker,
					Limit:  limit,
				})
				if len(page) == 0 {
					break
				}
				require.LessOrEqual(t, len(page), limit)
				visited = append(visited, page...)
				marker = page[len(page)-1]
			}
			require.Equal(t, []string{"a", "b", "c", "d"}, visited)
		})
	}

	require.Equal(t, []string{"d"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Public: true, Marker: "c"}))
	require.Equal(t, []string{"c", "d"},
		f.listNames(t, "alice", "alice", "docs", backend.ListObjectsOptions{Shared: true, Public: true, Marker: "bb"}))
}
