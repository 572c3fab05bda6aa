package metadata

import (
	"fmt"
	"time"
)

// Node identifies one path in the account/container/object hierarchy.
type Node int64

// RootNode is the parent of every account.
const RootNode Node = 0

// Cluster is the lifecycle tag of a version.
type Cluster int

const (
	ClusterNormal Cluster = iota
	ClusterHistory
	ClusterDeleted
)

func (c Cluster) String() string {
	switch c {
	case ClusterNormal:
		return "normal"
	case ClusterHistory:
		return "history"
	case ClusterDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("cluster(%d)", int(c))
	}
}

// Version is an immutable snapshot of a node.
type Version struct {
	Serial   int64
	Node     Node
	Hash     string
	Size     int64
	Type     string
	Source   int64
	Mtime    time.Time
	MUser    string
	UUID     string
	Checksum string
	Cluster  Cluster
}

// NewVersion holds the fields of a version about to be created.
type NewVersion struct {
	Node     Node
	Hash     string
	Size     int64
	Type     string
	Source   int64
	MUser    string
	UUID     string
	Checksum string
	Cluster  Cluster
}

// Statistics aggregates the versions below a node.
type Statistics struct {
	Count int64
	Size  int64
	Mtime time.Time
}

// PurgeResult reports what a purge released.
type PurgeResult struct {
	Hashes  []string
	Size    int64
	Serials []int64
}

// AccessMode selects the read or write list of a permission entry.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

// Permissions is the access list attached to a path.
type Permissions struct {
	Read  []string
	Write []string
}

// Empty reports whether neither list has members.
func (p Permissions) Empty() bool {
	return len(p.Read) == 0 && len(p.Write) == 0
}

// PublicLink pairs a public path with its token.
type PublicLink struct {
	Path  string
	Token string
}

// SizeRange restricts listings to versions with Min <= size < Max. A zero
// Max means no upper bound.
type SizeRange struct {
	Min int64
	Max int64
}

// ListOptions filters LatestVersionList.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Marker    string
	Limit     int
	// Before restricts the listing to versions created before it. A zero
	// value means now.
	Before        time.Time
	ExceptCluster Cluster
	// AllowedPaths restricts the listing when not nil. An entry ending in
	// "/" admits every path below it, any other entry only itself.
	AllowedPaths []string
	Domain       string
	// Filters are attribute conditions on Domain: "key", "!key",
	// "key=value" and "key!=value".
	Filters   []string
	SizeRange *SizeRange
}

// ListEntry is one listed path. Version is nil for a common prefix
// produced by a delimiter.
type ListEntry struct {
	Path    string
	Version *Version
}

// DomainObject is an object carrying attributes in a domain.
type DomainObject struct {
	Path       string
	Version    Version
	Attributes map[string]string
}
