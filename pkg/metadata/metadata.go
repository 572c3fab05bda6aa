package metadata

import (
	"context"
	"fmt"
	"time"
)

// Store opens metadata transactions.
type Store interface {
	// Begin starts a transaction. Every node, permission and serial
	// operation runs inside one.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying database.
	Close() error
}

// Tx is one metadata transaction.
type Tx interface {
	Nodes() NodeStore
	Permissions() PermissionStore
	Serials() SerialStore

	Commit() error
	Rollback() error
}

// NodeStore maintains the path hierarchy, the versions of every node, their
// attributes, node policies and aggregated statistics.
type NodeStore interface {
	// NodeLookup returns the node for a path. With forUpdate the lookup
	// also takes a write lock held until the transaction ends.
	NodeLookup(ctx context.Context, path string, forUpdate bool) (Node, bool, error)
	NodeCreate(ctx context.Context, parent Node, path string) (Node, error)
	// NodeRemove removes a node without children together with its
	// versions. It reports false when the node still has children.
	NodeRemove(ctx context.Context, node Node) (bool, error)
	NodeGetVersions(ctx context.Context, node Node) ([]Version, error)
	// NodePurge removes the versions of node in cluster older than until.
	NodePurge(ctx context.Context, node Node, until time.Time, cluster Cluster) (PurgeResult, error)
	// NodePurgeChildren removes the versions in cluster older than until
	// of every child of parent, then removes children left without
	// versions.
	NodePurgeChildren(ctx context.Context, parent Node, until time.Time, cluster Cluster) (PurgeResult, error)

	VersionCreate(ctx context.Context, v NewVersion) (Version, error)
	// VersionLookup returns the newest version of node in cluster created
	// before the given time. A zero time means now.
	VersionLookup(ctx context.Context, node Node, before time.Time, cluster Cluster) (Version, bool, error)
	VersionLookupBulk(ctx context.Context, nodes []Node, before time.Time, cluster Cluster) ([]Version, error)
	VersionGetProperties(ctx context.Context, serial int64) (Version, bool, error)
	VersionRecluster(ctx context.Context, serial int64, cluster Cluster) error
	// VersionRemove deletes a version and returns its hash and size.
	VersionRemove(ctx context.Context, serial int64) (string, int64, error)
	VersionSetChecksum(ctx context.Context, serial int64, checksum string) error
	// HashReferenced reports whether any version still points at hash.
	HashReferenced(ctx context.Context, hash string) (bool, error)

	// StatisticsGet returns the aggregated statistics of the descendants
	// of node in one cluster.
	StatisticsGet(ctx context.Context, node Node, cluster Cluster) (Statistics, error)
	// StatisticsLatest computes statistics from the latest versions before
	// the given time, ignoring versions in exceptCluster. Count is the
	// number of direct children, Size spans all descendants.
	StatisticsLatest(ctx context.Context, node Node, before time.Time, exceptCluster Cluster) (Statistics, error)

	AttributeGet(ctx context.Context, serial int64, domain string) (map[string]string, error)
	AttributeSet(ctx context.Context, serial int64, domain string, node Node, items map[string]string, isLatest bool) error
	// AttributeDel removes the given keys, or every key of the domain when
	// keys is empty.
	AttributeDel(ctx context.Context, serial int64, domain string, keys []string) error
	// AttributeCopy copies every attribute of src to dest, which belongs
	// to node.
	AttributeCopy(ctx context.Context, src int64, dest int64, node Node) error
	AttributeUnsetIsLatest(ctx context.Context, node Node, exclude int64) error
	// AttributeKeys lists the distinct attribute keys of the latest
	// versions of the children of parent, restricted to paths under
	// allowedPaths when it is not nil.
	AttributeKeys(ctx context.Context, parent Node, domain string, before time.Time, exceptCluster Cluster, allowedPaths []string) ([]string, error)

	PolicyGet(ctx context.Context, node Node) (map[string]string, error)
	PolicySet(ctx context.Context, node Node, policy map[string]string) error

	// LatestVersionList lists the latest versions of the children of
	// parent, ordered by path, applying the filters in opts.
	LatestVersionList(ctx context.Context, parent Node, opts ListOptions) ([]ListEntry, error)
	// LatestUUID returns the path and serial of the latest version in
	// cluster carrying uuid.
	LatestUUID(ctx context.Context, uuid string, cluster Cluster) (string, int64, bool, error)
	DomainObjectList(ctx context.Context, domain string, paths []string, cluster Cluster) ([]DomainObject, error)
}

// PermissionStore keeps access lists, public tokens and groups.
type PermissionStore interface {
	// AccessCheck reports whether member is granted mode on exactly path,
	// directly, through "*" or through one of its groups.
	AccessCheck(ctx context.Context, path string, mode AccessMode, member string) (bool, error)
	AccessGet(ctx context.Context, path string) (Permissions, error)
	AccessSet(ctx context.Context, path string, perms Permissions) error
	AccessClear(ctx context.Context, path string) error
	AccessClearBulk(ctx context.Context, paths []string) error
	// AccessInherit returns the paths carrying an access list that govern
	// path: path itself and its ancestors.
	AccessInherit(ctx context.Context, path string) ([]string, error)
	AccessListPaths(ctx context.Context, member string, prefix string, includeOwned bool, includeContainers bool) ([]string, error)
	AccessListShared(ctx context.Context, prefix string) ([]string, error)
	AccessMembers(ctx context.Context, path string) ([]string, error)

	PublicGet(ctx context.Context, path string) (string, bool, error)
	PublicSet(ctx context.Context, path string, length int, alphabet string) (string, error)
	PublicUnset(ctx context.Context, path string) error
	PublicUnsetBulk(ctx context.Context, paths []string) error
	PublicList(ctx context.Context, prefix string) ([]PublicLink, error)
	PublicPath(ctx context.Context, token string) (string, bool, error)

	GroupDict(ctx context.Context, owner string) (map[string][]string, error)
	GroupAddMany(ctx context.Context, owner string, group string, members []string) error
	GroupDelete(ctx context.Context, owner string, group string) error
	GroupDestroy(ctx context.Context, owner string) error
}

// SerialStore is the local fallback table of issued commission serials.
type SerialStore interface {
	Insert(ctx context.Context, serials []int64) error
	Delete(ctx context.Context, serials []int64) error
	List(ctx context.Context) ([]int64, error)
}

// WithTransaction runs a function within a metadata transaction, committing
// when it returns nil.
func WithTransaction(ctx context.Context, store Store, fn func(tx Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}
