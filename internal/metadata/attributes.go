package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

func (n *nodeStore) AttributeGet(ctx context.Context, serial int64, domain string) (map[string]string, error) {
	rows, err := n.tx.QueryContext(ctx, `SELECT key, value FROM attributes WHERE serial = ? AND domain = ?`, serial, domain)
	if err != nil {
		return nil, fmt.Errorf("get attributes of version %d: %w", serial, err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		attrs[key] = value
	}
	return attrs, rows.Err()
}

func (n *nodeStore) AttributeSet(ctx context.Context, serial int64, domain string, node metadata.Node, items map[string]string, isLatest bool) error {
	for key, value := range items {
		_, err := n.tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO attributes(serial, domain, key, value, node, is_latest) VALUES(?, ?, ?, ?, ?, ?)`,
			serial, domain, key, value, node, isLatest,
		)
		if err != nil {
			return fmt.Errorf("set attribute %q of version %d: %w", key, serial, err)
		}
	}
	return nil
}

func (n *nodeStore) AttributeDel(ctx context.Context, serial int64, domain string, keys []string) error {
	if len(keys) == 0 {
		_, err := n.tx.ExecContext(ctx, `DELETE FROM attributes WHERE serial = ? AND domain = ?`, serial, domain)
		return err
	}

	args := append([]any{serial, domain}, stringArgs(keys)...)
	_, err := n.tx.ExecContext(ctx,
		`DELETE FROM attributes WHERE serial = ? AND domain = ? AND key IN (`+placeholders(len(keys))+`)`,
		args...,
	)
	return err
}

func (n *nodeStore) AttributeCopy(ctx context.Context, src int64, dest int64, node metadata.Node) error {
	_, err := n.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO attributes(serial, domain, key, value, node, is_latest)
		SELECT ?, domain, key, value, ?, 1 FROM attributes WHERE serial = ?`,
		dest, node, src,
	)
	if err != nil {
		return fmt.Errorf("copy attributes %d -> %d: %w", src, dest, err)
	}
	return nil
}

func (n *nodeStore) AttributeUnsetIsLatest(ctx context.Context, node metadata.Node, exclude int64) error {
	_, err := n.tx.ExecContext(ctx, `UPDATE attributes SET is_latest = 0 WHERE node = ? AND serial != ?`, node, exclude)
	return err
}

func (n *nodeStore) AttributeKeys(ctx context.Context, parent metadata.Node, domain string, before time.Time, exceptCluster metadata.Cluster, allowedPaths []string) ([]string, error) {
	if allowedPaths != nil && len(allowedPaths) == 0 {
		return []string{}, nil
	}

	query := `
		SELECT DISTINCT a.key
		FROM attributes a
		JOIN versions v ON v.serial = a.serial
		JOIN nodes n ON n.node = v.node
		WHERE n.parent = ? AND a.domain = ? AND ` + latestBefore + ` AND v.cluster != ?`
	args := []any{parent, domain, toNanos(before), int(exceptCluster)}

	cond, condArgs := pathPrefixes("n.path", allowedPaths)
	query += cond + ` ORDER BY a.key`
	args = append(args, condArgs...)

	rows, err := n.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attribute keys of node %d: %w", parent, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (n *nodeStore) PolicyGet(ctx context.Context, node metadata.Node) (map[string]string, error) {
	rows, err := n.tx.QueryContext(ctx, `SELECT key, value FROM policy WHERE node = ?`, node)
	if err != nil {
		return nil, fmt.Errorf("get policy of node %d: %w", node, err)
	}
	defer rows.Close()

	policy := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		policy[key] = value
	}
	return policy, rows.Err()
}

func (n *nodeStore) PolicySet(ctx context.Context, node metadata.Node, policy map[string]string) error {
	for key, value := range policy {
		_, err := n.tx.ExecContext(ctx, `INSERT OR REPLACE INTO policy(node, key, value) VALUES(?, ?, ?)`, node, key, value)
		if err != nil {
			return fmt.Errorf("set policy %q of node %d: %w", key, node, err)
		}
	}
	return nil
}

// pathPrefixes builds an " AND (...)" condition restricting column to the
// given paths. A path ending in "/" admits everything below it, any other
// path only itself. A nil list adds no condition.
func pathPrefixes(column string, paths []string) (string, []any) {
	if paths == nil {
		return "", nil
	}

	cond := ""
	args := make([]any, 0, 2*len(paths))
	for i, p := range paths {
		if i > 0 {
			cond += " OR "
		}
		if strings.HasSuffix(p, "/") {
			cond += prefixMatch(column)
			args = append(args, p, p)
			continue
		}
		cond += column + " = ?"
		args = append(args, p)
	}
	return " AND (" + cond + ")", args
}
