package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pithos/pkg/metadata"
)

// attributeFilter turns one filter expression into an EXISTS condition on
// the attributes of v.serial in domain.
func attributeFilter(expr string, domain string) (string, []any) {
	const exists = `EXISTS (SELECT 1 FROM attributes a WHERE a.serial = v.serial AND a.domain = ? AND a.key = ?`

	switch {
	case strings.HasPrefix(expr, "!"):
		return `NOT ` + exists + `)`, []any{domain, strings.TrimPrefix(expr, "!")}
	case strings.Contains(expr, "!="):
		key, value, _ := strings.Cut(expr, "!=")
		return exists + ` AND a.value != ?)`, []any{domain, key, value}
	case strings.Contains(expr, "="):
		key, value, _ := strings.Cut(expr, "=")
		return exists + ` AND a.value = ?)`, []any{domain, key, value}
	default:
		return exists + `)`, []any{domain, expr}
	}
}

func (n *nodeStore) LatestVersionList(ctx context.Context, parent metadata.Node, opts metadata.ListOptions) ([]metadata.ListEntry, error) {
	entries := make([]metadata.ListEntry, 0)
	if opts.AllowedPaths != nil && len(opts.AllowedPaths) == 0 {
		return entries, nil
	}

	query := `
		SELECT n.path, ` + versionColumns + `
		FROM versions v JOIN nodes n ON n.node = v.node
		WHERE n.parent = ? AND n.node != n.parent AND ` + latestBefore + ` AND v.cluster != ?`
	args := []any{parent, toNanos(opts.Before), int(opts.ExceptCluster)}

	if opts.Marker != "" {
		query += ` AND n.path > ?`
		args = append(args, opts.Marker)
	}

	if opts.Prefix != "" {
		query += ` AND ` + prefixMatch("n.path")
		args = append(args, opts.Prefix, opts.Prefix)
	}

	cond, condArgs := pathPrefixes("n.path", opts.AllowedPaths)
	query += cond
	args = append(args, condArgs...)

	if opts.SizeRange != nil {
		query += ` AND v.size >= ?`
		args = append(args, opts.SizeRange.Min)
		if opts.SizeRange.Max > 0 {
			query += ` AND v.size < ?`
			args = append(args, opts.SizeRange.Max)
		}
	}

	for _, expr := range opts.Filters {
		if expr == "" {
			continue
		}
		cond, condArgs := attributeFilter(expr, opts.Domain)
		query += ` AND ` + cond
		args = append(args, condArgs...)
	}

	query += ` ORDER BY n.path`

	rows, err := n.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list children of node %d: %w", parent, err)
	}
	defer rows.Close()

	// A marker that is itself a common prefix must not be listed again.
	skipPrefix := ""
	if opts.Delimiter != "" && strings.HasSuffix(opts.Marker, opts.Delimiter) {
		skipPrefix = opts.Marker
	}

	lastPrefix := ""
	for rows.Next() {
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}

		var path string
		v, err := scanVersion(rows, &path)
		if err != nil {
			return nil, err
		}

		if opts.Delimiter == "" {
			entries = append(entries, metadata.ListEntry{Path: path, Version: &v})
			continue
		}

		if skipPrefix != "" && strings.HasPrefix(path, skipPrefix) {
			continue
		}

		idx := strings.Index(path[len(opts.Prefix):], opts.Delimiter)
		if idx < 0 {
			entries = append(entries, metadata.ListEntry{Path: path, Version: &v})
			continue
		}

		commonPrefix := path[:len(opts.Prefix)+idx+len(opts.Delimiter)]
		if commonPrefix == lastPrefix {
			continue
		}
		lastPrefix = commonPrefix

		if commonPrefix == path {
			// An object named like the directory stands in for it.
			entries = append(entries, metadata.ListEntry{Path: path, Version: &v})
			continue
		}
		entries = append(entries, metadata.ListEntry{Path: commonPrefix})
	}

	return entries, rows.Err()
}

func (n *nodeStore) LatestUUID(ctx context.Context, uuid string, cluster metadata.Cluster) (string, int64, bool, error) {
	var (
		path   string
		serial int64
	)

	err := n.tx.QueryRowContext(ctx, `
		SELECT n.path, v.serial
		FROM versions v JOIN nodes n ON n.node = v.node
		WHERE v.serial = (SELECT MAX(serial) FROM versions WHERE uuid = ? AND cluster = ?)`,
		uuid, int(cluster),
	).Scan(&path, &serial)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", 0, false, nil
	case err != nil:
		return "", 0, false, fmt.Errorf("lookup uuid %s: %w", uuid, err)
	}
	return path, serial, true, nil
}

func (n *nodeStore) DomainObjectList(ctx context.Context, domain string, paths []string, cluster metadata.Cluster) ([]metadata.DomainObject, error) {
	objects := make([]metadata.DomainObject, 0)
	if paths != nil && len(paths) == 0 {
		return objects, nil
	}

	query := `
		SELECT n.path, a.key, a.value, ` + versionColumns + `
		FROM attributes a
		JOIN versions v ON v.serial = a.serial
		JOIN nodes n ON n.node = v.node
		WHERE a.domain = ? AND a.is_latest = 1 AND v.cluster = ?`
	args := []any{domain, int(cluster)}

	if paths != nil {
		query += ` AND n.path IN (` + placeholders(len(paths)) + `)`
		args = append(args, stringArgs(paths)...)
	}
	query += ` ORDER BY n.path, a.key`

	rows, err := n.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects of domain %q: %w", domain, err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, key, value string
		v, err := scanVersion(rows, &path, &key, &value)
		if err != nil {
			return nil, err
		}

		if len(objects) == 0 || objects[len(objects)-1].Path != path {
			objects = append(objects, metadata.DomainObject{
				Path:       path,
				Version:    v,
				Attributes: make(map[string]string),
			})
		}
		objects[len(objects)-1].Attributes[key] = value
	}
	return objects, rows.Err()
}
