package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pithos/pkg/metadata"

	"github.com/google/uuid"
)

// Version types that make an object govern the permissions of the paths
// below it.
var directoryTypes = []string{"application/directory", "application/folder"}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

func isDirectoryType(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.TrimSpace(base)
	for _, t := range directoryTypes {
		if base == t {
			return true
		}
	}
	return false
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: bad name %q", ErrInvalidArgument, name)
	}
	return nil
}

// putPath creates a node with an empty initial version.
func (s *Session) putPath(ctx context.Context, user string, parent metadata.Node, path string) (metadata.Node, error) {
	node, err := s.nodes.NodeCreate(ctx, parent, path)
	if err != nil {
		return 0, err
	}

	_, err = s.nodes.VersionCreate(ctx, metadata.NewVersion{
		Node:    node,
		MUser:   user,
		UUID:    uuid.NewString(),
		Cluster: metadata.ClusterNormal,
	})
	if err != nil {
		return 0, err
	}
	return node, nil
}

// lookupAccount returns the account node, creating it when create is set.
// Without create a missing account yields found == false.
func (s *Session) lookupAccount(ctx context.Context, account string, create bool) (metadata.Node, bool, error) {
	node, ok, err := s.nodes.NodeLookup(ctx, account, false)
	if err != nil || ok || !create {
		return node, ok, err
	}

	if err := validName(account); err != nil {
		return 0, false, err
	}
	node, err = s.putPath(ctx, account, metadata.RootNode, account)
	if err != nil {
		return 0, false, err
	}
	return node, true, nil
}

func (s *Session) lookupContainer(ctx context.Context, account string, container string) (string, metadata.Node, error) {
	path := joinPath(account, container)
	node, ok, err := s.nodes.NodeLookup(ctx, path, s.lockContainer)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, fmt.Errorf("container %s: %w", path, ErrItemNotExists)
	}
	return path, node, nil
}

// lookupObject returns the object node. With lockContainer the container
// is looked up for update first.
func (s *Session) lookupObject(ctx context.Context, account string, container string, name string, lockContainer bool) (string, metadata.Node, error) {
	if lockContainer {
		if _, _, err := s.lockContainerPath(ctx, account, container); err != nil {
			return "", 0, err
		}
	}

	path := joinPath(account, container, name)
	node, ok, err := s.nodes.NodeLookup(ctx, path, false)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, fmt.Errorf("object %s: %w", path, ErrItemNotExists)
	}
	return path, node, nil
}

func (s *Session) lockContainerPath(ctx context.Context, account string, container string) (string, metadata.Node, error) {
	path := joinPath(account, container)
	node, ok, err := s.nodes.NodeLookup(ctx, path, true)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, fmt.Errorf("container %s: %w", path, ErrItemNotExists)
	}
	return path, node, nil
}

// putObjectNode returns the node of the object path, creating it if needed.
func (s *Session) putObjectNode(ctx context.Context, containerPath string, containerNode metadata.Node, name string) (string, metadata.Node, error) {
	path := joinPath(containerPath, name)
	node, ok, err := s.nodes.NodeLookup(ctx, path, false)
	if err != nil {
		return "", 0, err
	}
	if ok {
		return path, node, nil
	}

	node, err = s.nodes.NodeCreate(ctx, containerNode, path)
	if err != nil {
		return "", 0, err
	}
	return path, node, nil
}

// getProperties returns the current version of a node, or the one current
// at until. A version moved to history since then still counts.
func (s *Session) getProperties(ctx context.Context, node metadata.Node, until time.Time) (metadata.Version, error) {
	v, ok, err := s.nodes.VersionLookup(ctx, node, until, metadata.ClusterNormal)
	if err != nil {
		return v, err
	}
	if !ok && !until.IsZero() {
		v, ok, err = s.nodes.VersionLookup(ctx, node, until, metadata.ClusterHistory)
		if err != nil {
			return v, err
		}
	}
	if !ok {
		return v, ErrItemNotExists
	}
	return v, nil
}

// getVersion returns the current version of node when version is zero,
// otherwise that version of node unless it is a tombstone.
func (s *Session) getVersion(ctx context.Context, node metadata.Node, version int64) (metadata.Version, error) {
	if version == 0 {
		v, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
		if err != nil {
			return v, err
		}
		if !ok {
			return v, fmt.Errorf("object does not exist: %w", ErrItemNotExists)
		}
		return v, nil
	}

	v, ok, err := s.nodes.VersionGetProperties(ctx, version)
	if err != nil {
		return v, err
	}
	if !ok || v.Node != node || v.Cluster == metadata.ClusterDeleted {
		return v, fmt.Errorf("version %d: %w", version, ErrVersionNotExists)
	}
	return v, nil
}

// exists reports whether node has a current version.
func (s *Session) exists(ctx context.Context, node metadata.Node) (bool, error) {
	_, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
	return ok, err
}

// getStatistics returns the statistics of node now, or at until. compute
// derives them from the latest versions instead of the stored aggregates.
func (s *Session) getStatistics(ctx context.Context, node metadata.Node, until time.Time, compute bool) (metadata.Statistics, error) {
	if until.IsZero() && !compute {
		return s.nodes.StatisticsGet(ctx, node, metadata.ClusterNormal)
	}
	return s.nodes.StatisticsLatest(ctx, node, until, metadata.ClusterDeleted)
}

// usage is the number of bytes node is charged for: current and history
// versions below it.
func (s *Session) usage(ctx context.Context, node metadata.Node) (int64, error) {
	normal, err := s.nodes.StatisticsGet(ctx, node, metadata.ClusterNormal)
	if err != nil {
		return 0, err
	}
	history, err := s.nodes.StatisticsGet(ctx, node, metadata.ClusterHistory)
	if err != nil {
		return 0, err
	}
	return normal.Size + history.Size, nil
}

// duplicate describes a new version derived from the current one.
type duplicate struct {
	// srcNode provides the template version instead of the node itself.
	srcNode *metadata.Node

	// content replaces the template's hash, size, type and checksum.
	content  bool
	hash     string
	size     int64
	typ      string
	checksum *string

	cluster metadata.Cluster
	isCopy  bool
}

// putVersionDuplicate creates a new version of node from a template
// version, moving the current version of node to history. It returns the
// serial of the superseded version (0 if none) and of the new version.
func (s *Session) putVersionDuplicate(ctx context.Context, user string, node metadata.Node, d duplicate) (int64, int64, error) {
	srcNode := node
	if d.srcNode != nil {
		srcNode = *d.srcNode
	}

	template, hasTemplate, err := s.nodes.VersionLookup(ctx, srcNode, time.Time{}, metadata.ClusterNormal)
	if err != nil {
		return 0, 0, err
	}

	nv := metadata.NewVersion{
		Node:     node,
		Hash:     template.Hash,
		Size:     template.Size,
		Type:     template.Type,
		Checksum: template.Checksum,
		MUser:    user,
		Cluster:  d.cluster,
	}
	if hasTemplate {
		nv.Source = template.Serial
	}
	if d.content {
		nv.Hash = d.hash
		nv.Size = d.size
		nv.Type = d.typ
	}
	if d.checksum != nil {
		nv.Checksum = *d.checksum
	}

	if d.isCopy || !hasTemplate {
		nv.UUID = uuid.NewString()
	} else {
		nv.UUID = template.UUID
	}

	var pre int64
	if d.srcNode == nil {
		if hasTemplate {
			pre = template.Serial
		}
	} else {
		current, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			pre = current.Serial
		}
	}

	if pre != 0 {
		if err := s.nodes.VersionRecluster(ctx, pre, metadata.ClusterHistory); err != nil {
			return 0, 0, err
		}
	}

	dest, err := s.nodes.VersionCreate(ctx, nv)
	if err != nil {
		return 0, 0, err
	}
	if err := s.nodes.AttributeUnsetIsLatest(ctx, node, dest.Serial); err != nil {
		return 0, 0, err
	}
	return pre, dest.Serial, nil
}

// putMetadataDuplicate carries the attributes of src over to dest and
// applies meta. Without replace, empty values delete their keys.
func (s *Session) putMetadataDuplicate(ctx context.Context, src int64, dest int64, domain string, node metadata.Node, meta map[string]string, replace bool) error {
	if src != 0 {
		if err := s.nodes.AttributeCopy(ctx, src, dest, node); err != nil {
			return err
		}
	}

	set := make(map[string]string, len(meta))
	if replace {
		if err := s.nodes.AttributeDel(ctx, dest, domain, nil); err != nil {
			return err
		}
		for k, v := range meta {
			set[k] = v
		}
	} else {
		var del []string
		for k, v := range meta {
			if v == "" {
				del = append(del, k)
			} else {
				set[k] = v
			}
		}
		if len(del) > 0 {
			if err := s.nodes.AttributeDel(ctx, dest, domain, del); err != nil {
				return err
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	return s.nodes.AttributeSet(ctx, dest, domain, node, set, true)
}

// putMetadata creates a new version of node carrying updated attributes.
func (s *Session) putMetadata(ctx context.Context, user string, node metadata.Node, domain string, meta map[string]string, replace bool) (int64, int64, error) {
	src, dest, err := s.putVersionDuplicate(ctx, user, node, duplicate{cluster: metadata.ClusterNormal})
	if err != nil {
		return 0, 0, err
	}
	if err := s.putMetadataDuplicate(ctx, src, dest, domain, node, meta, replace); err != nil {
		return 0, 0, err
	}
	return src, dest, nil
}

// releaseMap drops the block map of hash unless a version still uses it.
func (s *Session) releaseMap(ctx context.Context, hash string) error {
	if hash == "" {
		return nil
	}

	referenced, err := s.nodes.HashReferenced(ctx, hash)
	if err != nil || referenced {
		return err
	}

	raw, err := decodeHash(hash)
	if err != nil {
		return err
	}
	return s.b.cfg.Blocks.MapDelete(ctx, raw)
}

// applyVersioning enforces the versioning policy of the container on the
// superseded version and returns the number of bytes freed.
func (s *Session) applyVersioning(ctx context.Context, account string, container string, version int64) (int64, error) {
	if version == 0 {
		return 0, nil
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return 0, err
	}
	policy, err := s.getPolicy(ctx, node, false)
	if err != nil {
		return 0, err
	}

	switch {
	case policy[PolicyVersioning] != VersioningAuto:
		hash, size, err := s.nodes.VersionRemove(ctx, version)
		if err != nil {
			return 0, err
		}
		if err := s.releaseMap(ctx, hash); err != nil {
			return 0, err
		}
		return size, nil
	case s.b.cfg.FreeVersioning:
		v, ok, err := s.nodes.VersionGetProperties(ctx, version)
		if err != nil || !ok {
			return 0, err
		}
		return v.Size, nil
	default:
		return 0, nil
	}
}
