package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pithos/pkg/metadata"
)

const versionColumns = `v.serial, v.node, v.hash, v.size, v.type, v.source, v.mtime, v.muser, v.uuid, v.checksum, v.cluster`

// latestBefore matches the newest version of v.node created before the
// bound cutoff.
const latestBefore = `v.serial = (SELECT MAX(serial) FROM versions WHERE node = v.node AND mtime < ?)`

type nodeStore struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner, extra ...any) (metadata.Version, error) {
	var (
		v       metadata.Version
		mtime   int64
		cluster int
	)

	dest := []any{&v.Serial, &v.Node, &v.Hash, &v.Size, &v.Type, &v.Source, &mtime, &v.MUser, &v.UUID, &v.Checksum, &cluster}
	if err := row.Scan(append(extra, dest...)...); err != nil {
		return metadata.Version{}, err
	}

	v.Mtime = fromNanos(mtime)
	v.Cluster = metadata.Cluster(cluster)
	return v, nil
}

func (n *nodeStore) NodeLookup(ctx context.Context, path string, forUpdate bool) (metadata.Node, bool, error) {
	// The transaction already holds the database write lock, see SQLiteStore.
	_ = forUpdate

	var node metadata.Node
	err := n.tx.QueryRowContext(ctx, `SELECT node FROM nodes WHERE path = ?`, path).Scan(&node)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup node %q: %w", path, err)
	}
	return node, true, nil
}

func (n *nodeStore) NodeCreate(ctx context.Context, parent metadata.Node, path string) (metadata.Node, error) {
	res, err := n.tx.ExecContext(ctx, `INSERT INTO nodes(parent, path) VALUES(?, ?)`, parent, path)
	if err != nil {
		return 0, fmt.Errorf("create node %q: %w", path, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return metadata.Node(id), nil
}

func (n *nodeStore) parentOf(ctx context.Context, node metadata.Node) (metadata.Node, error) {
	var parent metadata.Node
	if err := n.tx.QueryRowContext(ctx, `SELECT parent FROM nodes WHERE node = ?`, node).Scan(&parent); err != nil {
		return 0, fmt.Errorf("parent of node %d: %w", node, err)
	}
	return parent, nil
}

func (n *nodeStore) statisticsUpdate(ctx context.Context, node metadata.Node, population int64, size int64, mtime int64, cluster metadata.Cluster) error {
	_, err := n.tx.ExecContext(ctx, `
		INSERT INTO statistics(node, cluster, population, size, mtime) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(node, cluster) DO UPDATE SET
			population = statistics.population + excluded.population,
			size = statistics.size + excluded.size,
			mtime = excluded.mtime`,
		node, int(cluster), population, size, mtime,
	)
	if err != nil {
		return fmt.Errorf("update statistics of node %d: %w", node, err)
	}
	return nil
}

// statisticsUpdateAncestors applies a delta to every ancestor of node up to
// and including the root.
func (n *nodeStore) statisticsUpdateAncestors(ctx context.Context, node metadata.Node, population int64, size int64, mtime int64, cluster metadata.Cluster) error {
	for node != metadata.RootNode {
		parent, err := n.parentOf(ctx, node)
		if err != nil {
			return err
		}
		if err := n.statisticsUpdate(ctx, parent, population, size, mtime, cluster); err != nil {
			return err
		}
		node = parent
	}
	return nil
}

func (n *nodeStore) NodeRemove(ctx context.Context, node metadata.Node) (bool, error) {
	var children int64
	if err := n.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE parent = ? AND node != parent`, node).Scan(&children); err != nil {
		return false, fmt.Errorf("count children of node %d: %w", node, err)
	}
	if children > 0 {
		return false, nil
	}

	rows, err := n.tx.QueryContext(ctx, `SELECT COUNT(serial), COALESCE(SUM(size), 0), cluster FROM versions WHERE node = ? GROUP BY cluster`, node)
	if err != nil {
		return false, err
	}

	type delta struct {
		population, size int64
		cluster          metadata.Cluster
	}
	var deltas []delta
	for rows.Next() {
		var d delta
		var cluster int
		if err := rows.Scan(&d.population, &d.size, &cluster); err != nil {
			rows.Close()
			return false, err
		}
		d.cluster = metadata.Cluster(cluster)
		deltas = append(deltas, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	mtime := time.Now().UnixNano()
	for _, d := range deltas {
		if err := n.statisticsUpdateAncestors(ctx, node, -d.population, -d.size, mtime, d.cluster); err != nil {
			return false, err
		}
	}

	for _, stmt := range []string{
		`DELETE FROM attributes WHERE serial IN (SELECT serial FROM versions WHERE node = ?)`,
		`DELETE FROM versions WHERE node = ?`,
		`DELETE FROM policy WHERE node = ?`,
		`DELETE FROM statistics WHERE node = ?`,
		`DELETE FROM nodes WHERE node = ?`,
	} {
		if _, err := n.tx.ExecContext(ctx, stmt, node); err != nil {
			return false, fmt.Errorf("remove node %d: %w", node, err)
		}
	}
	return true, nil
}

func (n *nodeStore) NodeGetVersions(ctx context.Context, node metadata.Node) ([]metadata.Version, error) {
	rows, err := n.tx.QueryContext(ctx, `SELECT `+versionColumns+` FROM versions v WHERE v.node = ? ORDER BY v.serial`, node)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make([]metadata.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// purge removes the versions matched by where (bound to args) that belong
// to cluster and are not newer than until.
func (n *nodeStore) purge(ctx context.Context, where string, args []any, until time.Time, cluster metadata.Cluster) (metadata.PurgeResult, error) {
	var result metadata.PurgeResult

	filter := where + ` AND v.cluster = ? AND v.mtime <= ?`
	filterArgs := append(append([]any{}, args...), int(cluster), toNanos(until))

	rows, err := n.tx.QueryContext(ctx, `SELECT v.serial, v.node, v.hash, v.size FROM versions v WHERE `+filter, filterArgs...)
	if err != nil {
		return result, err
	}

	type removed struct {
		serial int64
		node   metadata.Node
		size   int64
	}
	var victims []removed
	seen := make(map[string]struct{})
	for rows.Next() {
		var r removed
		var hash string
		if err := rows.Scan(&r.serial, &r.node, &hash, &r.size); err != nil {
			rows.Close()
			return result, err
		}
		victims = append(victims, r)
		result.Serials = append(result.Serials, r.serial)
		result.Size += r.size
		if _, dup := seen[hash]; hash != "" && !dup {
			seen[hash] = struct{}{}
			result.Hashes = append(result.Hashes, hash)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	mtime := time.Now().UnixNano()
	for _, r := range victims {
		if err := n.statisticsUpdateAncestors(ctx, r.node, -1, -r.size, mtime, cluster); err != nil {
			return result, err
		}
		if _, err := n.tx.ExecContext(ctx, `DELETE FROM attributes WHERE serial = ?`, r.serial); err != nil {
			return result, err
		}
		if _, err := n.tx.ExecContext(ctx, `DELETE FROM versions WHERE serial = ?`, r.serial); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (n *nodeStore) NodePurge(ctx context.Context, node metadata.Node, until time.Time, cluster metadata.Cluster) (metadata.PurgeResult, error) {
	return n.purge(ctx, `v.node = ?`, []any{node}, until, cluster)
}

func (n *nodeStore) NodePurgeChildren(ctx context.Context, parent metadata.Node, until time.Time, cluster metadata.Cluster) (metadata.PurgeResult, error) {
	result, err := n.purge(ctx, `v.node IN (SELECT node FROM nodes WHERE parent = ? AND node != parent)`, []any{parent}, until, cluster)
	if err != nil {
		return result, err
	}

	_, err = n.tx.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE parent = ? AND node != parent
		AND NOT EXISTS (SELECT 1 FROM versions WHERE versions.node = nodes.node)
		AND NOT EXISTS (SELECT 1 FROM nodes c WHERE c.parent = nodes.node)`,
		parent,
	)
	if err != nil {
		return result, fmt.Errorf("remove empty children of node %d: %w", parent, err)
	}
	return result, nil
}

func (n *nodeStore) VersionCreate(ctx context.Context, nv metadata.NewVersion) (metadata.Version, error) {
	mtime := time.Now().UnixNano()
	res, err := n.tx.ExecContext(ctx, `
		INSERT INTO versions(node, hash, size, type, source, mtime, muser, uuid, checksum, cluster)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nv.Node, nv.Hash, nv.Size, nv.Type, nv.Source, mtime, nv.MUser, nv.UUID, nv.Checksum, int(nv.Cluster),
	)
	if err != nil {
		return metadata.Version{}, fmt.Errorf("create version of node %d: %w", nv.Node, err)
	}

	serial, err := res.LastInsertId()
	if err != nil {
		return metadata.Version{}, err
	}

	if err := n.statisticsUpdateAncestors(ctx, nv.Node, 1, nv.Size, mtime, nv.Cluster); err != nil {
		return metadata.Version{}, err
	}

	return metadata.Version{
		Serial:   serial,
		Node:     nv.Node,
		Hash:     nv.Hash,
		Size:     nv.Size,
		Type:     nv.Type,
		Source:   nv.Source,
		Mtime:    fromNanos(mtime),
		MUser:    nv.MUser,
		UUID:     nv.UUID,
		Checksum: nv.Checksum,
		Cluster:  nv.Cluster,
	}, nil
}

func (n *nodeStore) VersionLookup(ctx context.Context, node metadata.Node, before time.Time, cluster metadata.Cluster) (metadata.Version, bool, error) {
	row := n.tx.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions v WHERE v.node = ? AND `+latestBefore+` AND v.cluster = ?`,
		node, toNanos(before), int(cluster),
	)

	v, err := scanVersion(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return metadata.Version{}, false, nil
	case err != nil:
		return metadata.Version{}, false, fmt.Errorf("lookup version of node %d: %w", node, err)
	}
	return v, true, nil
}

func (n *nodeStore) VersionLookupBulk(ctx context.Context, nodes []metadata.Node, before time.Time, cluster metadata.Cluster) ([]metadata.Version, error) {
	versions := make([]metadata.Version, 0, len(nodes))
	for _, node := range nodes {
		v, ok, err := n.VersionLookup(ctx, node, before, cluster)
		if err != nil {
			return nil, err
		}
		if ok {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

func (n *nodeStore) VersionGetProperties(ctx context.Context, serial int64) (metadata.Version, bool, error) {
	row := n.tx.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions v WHERE v.serial = ?`, serial)

	v, err := scanVersion(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return metadata.Version{}, false, nil
	case err != nil:
		return metadata.Version{}, false, fmt.Errorf("get version %d: %w", serial, err)
	}
	return v, true, nil
}

func (n *nodeStore) VersionRecluster(ctx context.Context, serial int64, cluster metadata.Cluster) error {
	v, ok, err := n.VersionGetProperties(ctx, serial)
	if err != nil || !ok || v.Cluster == cluster {
		return err
	}

	mtime := time.Now().UnixNano()
	if err := n.statisticsUpdateAncestors(ctx, v.Node, -1, -v.Size, mtime, v.Cluster); err != nil {
		return err
	}
	if err := n.statisticsUpdateAncestors(ctx, v.Node, 1, v.Size, mtime, cluster); err != nil {
		return err
	}

	if _, err := n.tx.ExecContext(ctx, `UPDATE versions SET cluster = ? WHERE serial = ?`, int(cluster), serial); err != nil {
		return fmt.Errorf("recluster version %d: %w", serial, err)
	}
	return nil
}

func (n *nodeStore) VersionRemove(ctx context.Context, serial int64) (string, int64, error) {
	v, ok, err := n.VersionGetProperties(ctx, serial)
	if err != nil || !ok {
		return "", 0, err
	}

	if err := n.statisticsUpdateAncestors(ctx, v.Node, -1, -v.Size, time.Now().UnixNano(), v.Cluster); err != nil {
		return "", 0, err
	}

	if _, err := n.tx.ExecContext(ctx, `DELETE FROM attributes WHERE serial = ?`, serial); err != nil {
		return "", 0, err
	}
	if _, err := n.tx.ExecContext(ctx, `DELETE FROM versions WHERE serial = ?`, serial); err != nil {
		return "", 0, fmt.Errorf("remove version %d: %w", serial, err)
	}
	return v.Hash, v.Size, nil
}

func (n *nodeStore) VersionSetChecksum(ctx context.Context, serial int64, checksum string) error {
	_, err := n.tx.ExecContext(ctx, `UPDATE versions SET checksum = ? WHERE serial = ?`, checksum, serial)
	return err
}

func (n *nodeStore) HashReferenced(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := n.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM versions WHERE hash = ?)`, hash).Scan(&exists)
	return exists, err
}

func (n *nodeStore) StatisticsGet(ctx context.Context, node metadata.Node, cluster metadata.Cluster) (metadata.Statistics, error) {
	var (
		stats metadata.Statistics
		mtime int64
	)

	err := n.tx.QueryRowContext(ctx,
		`SELECT population, size, mtime FROM statistics WHERE node = ? AND cluster = ?`,
		node, int(cluster),
	).Scan(&stats.Count, &stats.Size, &mtime)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return metadata.Statistics{}, nil
	case err != nil:
		return metadata.Statistics{}, fmt.Errorf("statistics of node %d: %w", node, err)
	}

	stats.Mtime = fromNanos(mtime)
	return stats, nil
}

func (n *nodeStore) StatisticsLatest(ctx context.Context, node metadata.Node, before time.Time, exceptCluster metadata.Cluster) (metadata.Statistics, error) {
	var (
		stats    metadata.Statistics
		mtime    int64
		subMtime int64
	)
	cutoff := toNanos(before)

	err := n.tx.QueryRowContext(ctx, `
		SELECT COUNT(v.serial), COALESCE(MAX(v.mtime), 0)
		FROM versions v JOIN nodes n ON n.node = v.node
		WHERE n.parent = ? AND n.node != n.parent AND `+latestBefore+` AND v.cluster != ?`,
		node, cutoff, int(exceptCluster),
	).Scan(&stats.Count, &mtime)
	if err != nil {
		return stats, fmt.Errorf("count children of node %d: %w", node, err)
	}

	var path string
	if err := n.tx.QueryRowContext(ctx, `SELECT path FROM nodes WHERE node = ?`, node).Scan(&path); err != nil {
		return stats, fmt.Errorf("path of node %d: %w", node, err)
	}

	descendants := `n.node != 0`
	args := []any{cutoff, int(exceptCluster)}
	if node != metadata.RootNode {
		descendants = prefixMatch("n.path")
		args = append(args, path+"/", path+"/")
	}

	err = n.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(v.size), 0), COALESCE(MAX(v.mtime), 0)
		FROM versions v JOIN nodes n ON n.node = v.node
		WHERE `+latestBefore+` AND v.cluster != ? AND `+descendants,
		args...,
	).Scan(&stats.Size, &subMtime)
	if err != nil {
		return stats, fmt.Errorf("size of node %d: %w", node, err)
	}

	stats.Mtime = fromNanos(max(mtime, subMtime))
	return stats, nil
}
