package backend

import (
	"context"
	"slices"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

// ListObjectsOptions filters an object listing.
type ListObjectsOptions struct {
	Prefix    string
	Delimiter string
	Marker    string
	// Limit caps the number of entries. Zero means MaxListLimit.
	Limit int
	// Virtual keeps the common prefixes produced by Delimiter.
	Virtual bool

	Domain string
	// Keys are metadata conditions on Domain: "key", "!key",
	// "key=value" and "key!=value".
	Keys      []string
	SizeRange *metadata.SizeRange

	// Shared restricts the listing to objects with an access list and
	// Public to objects with a public token.
	Shared bool
	Public bool

	Until time.Time
}

// ObjectEntry is one listed object, relative to its container. Version is
// nil for a common prefix.
type ObjectEntry struct {
	Name    string
	Version *metadata.Version
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// listLimits returns the start index and the number of entries of a page
// of listing following marker.
func listLimits(listing []string, marker string, limit int) (int, int) {
	start := 0
	if marker != "" {
		if i := slices.Index(listing, marker); i >= 0 {
			start = i + 1
		}
	}
	return start, clampLimit(limit)
}

// ListObjects lists the objects of the container user may see.
func (s *Session) ListObjects(ctx context.Context, user string, account string, container string, opts ListObjectsOptions) ([]ObjectEntry, error) {
	if user != account && !opts.Until.IsZero() {
		return nil, ErrNotAllowed
	}

	var objects []ObjectEntry
	switch {
	case opts.Shared && opts.Public:
		shared, err := s.listObjectPermissions(ctx, user, account, container, opts.Prefix, true, false)
		if err != nil {
			return nil, err
		}
		if len(shared) > 0 {
			objects, err = s.listObjectProperties(ctx, account, container, opts, shared)
			if err != nil {
				return nil, err
			}
		}

		public, err := s.listPublicObjects(ctx, user, account, container, opts.Prefix, opts.Marker)
		if err != nil {
			return nil, err
		}
		objects = append(objects, public...)
		slices.SortStableFunc(objects, func(a, b ObjectEntry) int {
			return strings.Compare(a.Name, b.Name)
		})
		objects = slices.CompactFunc(objects, func(a, b ObjectEntry) bool {
			return a.Name == b.Name
		})

	case opts.Public:
		var err error
		objects, err = s.listPublicObjects(ctx, user, account, container, opts.Prefix, opts.Marker)
		if err != nil {
			return nil, err
		}

	default:
		var allowed []string
		if user != account || opts.Shared {
			var err error
			allowed, err = s.listObjectPermissions(ctx, user, account, container, opts.Prefix, opts.Shared, false)
			if err != nil {
				return nil, err
			}
			if opts.Shared && len(allowed) == 0 {
				return []ObjectEntry{}, nil
			}
		}

		var err error
		objects, err = s.listObjectProperties(ctx, account, container, opts, allowed)
		if err != nil {
			return nil, err
		}
	}

	// Every branch has already dropped the entries up to the marker.
	return objects[:min(clampLimit(opts.Limit), len(objects))], nil
}

// listObjectProperties lists the latest versions in the container
// restricted to allowed, when not nil.
func (s *Session) listObjectProperties(ctx context.Context, account string, container string, opts ListObjectsOptions, allowed []string) ([]ObjectEntry, error) {
	containerPath, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return nil, err
	}
	if allowed != nil {
		allowed, err = s.formattedPaths(ctx, allowed)
		if err != nil {
			return nil, err
		}
	}

	prefix := containerPath + "/"
	listOpts := metadata.ListOptions{
		Prefix:        prefix + opts.Prefix,
		Delimiter:     opts.Delimiter,
		Limit:         clampLimit(opts.Limit),
		Before:        opts.Until,
		ExceptCluster: metadata.ClusterDeleted,
		AllowedPaths:  allowed,
		SizeRange:     opts.SizeRange,
	}
	if opts.Marker != "" {
		listOpts.Marker = prefix + opts.Marker
	}
	if opts.Domain != "" {
		listOpts.Domain = opts.Domain
		listOpts.Filters = opts.Keys
	}

	entries, err := s.nodes.LatestVersionList(ctx, node, listOpts)
	if err != nil {
		return nil, err
	}

	objects := make([]ObjectEntry, 0, len(entries))
	for _, e := range entries {
		if e.Version == nil && !opts.Virtual {
			continue
		}
		objects = append(objects, ObjectEntry{Name: strings.TrimPrefix(e.Path, prefix), Version: e.Version})
	}
	return objects, nil
}

// listPublicObjects lists the current versions of the public objects
// under prefix that sort after marker.
func (s *Session) listPublicObjects(ctx context.Context, user string, account string, container string, prefix string, marker string) ([]ObjectEntry, error) {
	paths, err := s.listObjectPermissions(ctx, user, account, container, prefix, false, true)
	if err != nil {
		return nil, err
	}

	containerPrefix := joinPath(account, container) + "/"
	names := make(map[metadata.Node]string, len(paths))
	nodes := make([]metadata.Node, 0, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, containerPrefix+prefix) {
			continue
		}
		name := strings.TrimPrefix(p, containerPrefix)
		if marker != "" && name <= marker {
			continue
		}
		node, ok, err := s.nodes.NodeLookup(ctx, p, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		names[node] = name
		nodes = append(nodes, node)
	}

	versions, err := s.nodes.VersionLookupBulk(ctx, nodes, time.Time{}, metadata.ClusterNormal)
	if err != nil {
		return nil, err
	}

	objects := make([]ObjectEntry, 0, len(versions))
	for _, v := range versions {
		objects = append(objects, ObjectEntry{Name: names[v.Node], Version: &v})
	}
	slices.SortFunc(objects, func(a, b ObjectEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return objects, nil
}

// ListObjectMeta lists the objects of the container with the properties of
// their versions.
func (s *Session) ListObjectMeta(ctx context.Context, user string, account string, container string, opts ListObjectsOptions) ([]ObjectMeta, error) {
	objects, err := s.ListObjects(ctx, user, account, container, opts)
	if err != nil {
		return nil, err
	}

	metas := make([]ObjectMeta, 0, len(objects))
	for _, o := range objects {
		if o.Version == nil {
			metas = append(metas, ObjectMeta{Subdir: o.Name})
			continue
		}
		metas = append(metas, objectMeta(o.Name, *o.Version))
	}
	return metas, nil
}

// listChildren lists every current object of the container whose name
// starts with prefix.
func (s *Session) listChildren(ctx context.Context, containerPath string, node metadata.Node, prefix string) ([]metadata.ListEntry, error) {
	return s.nodes.LatestVersionList(ctx, node, metadata.ListOptions{
		Prefix:        joinPath(containerPath, prefix),
		ExceptCluster: metadata.ClusterDeleted,
	})
}
