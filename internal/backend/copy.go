package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

// ObjectRef addresses an object.
type ObjectRef struct {
	Account   string
	Container string
	Name      string
}

func (r ObjectRef) path() string {
	return joinPath(r.Account, r.Container, r.Name)
}

// CopyOptions tunes CopyObject and MoveObject.
type CopyOptions struct {
	// Type of the destination. Empty keeps the type of the source.
	Type        string
	Domain      string
	Meta        map[string]string
	ReplaceMeta bool
	Permissions *metadata.Permissions
	// Version of the source to copy. Zero is the current version. Moves
	// always take the current version.
	Version int64
	// Delimiter also copies every object named below the source, taking
	// the name of the source followed by Delimiter as their prefix.
	Delimiter string
}

// CopyObject copies src to dest with a new identity and returns the new
// version of dest.
func (s *Session) CopyObject(ctx context.Context, user string, src ObjectRef, dest ObjectRef, opts CopyOptions) (int64, error) {
	return s.copyObject(ctx, user, src, dest, opts, false)
}

// MoveObject renames src to dest keeping its identity and returns the new
// version of dest.
func (s *Session) MoveObject(ctx context.Context, user string, src ObjectRef, dest ObjectRef, opts CopyOptions) (int64, error) {
	opts.Version = 0
	return s.copyObject(ctx, user, src, dest, opts, true)
}

func (s *Session) copyObject(ctx context.Context, user string, src ObjectRef, dest ObjectRef, opts CopyOptions, isMove bool) (int64, error) {
	if err := s.canReadObject(ctx, user, src.Account, src.Container, src.Name); err != nil {
		return 0, err
	}
	if err := validObjectName(dest.Name); err != nil {
		return 0, err
	}

	// Containers are locked in path order.
	srcContainer := joinPath(src.Account, src.Container)
	destContainer := joinPath(dest.Account, dest.Container)
	first, second := src, dest
	if destContainer < srcContainer {
		first, second = dest, src
	}
	if _, _, err := s.lookupContainer(ctx, first.Account, first.Container); err != nil {
		return 0, err
	}
	if _, _, err := s.lookupContainer(ctx, second.Account, second.Container); err != nil {
		return 0, err
	}

	_, node, err := s.lookupObject(ctx, src.Account, src.Container, src.Name, false)
	if err != nil {
		return 0, err
	}
	props, err := s.getVersion(ctx, node, opts.Version)
	if err != nil {
		return 0, err
	}

	sameObject := src.path() == dest.path()
	isCopy := !isMove && !sameObject
	typ := opts.Type
	if typ == "" {
		typ = props.Type
	}

	dest0, err := s.updateObjectHash(ctx, user, dest.Account, dest.Container, dest.Name, objectHash{
		size:        props.Size,
		typ:         typ,
		hash:        props.Hash,
		domain:      opts.Domain,
		meta:        opts.Meta,
		replaceMeta: opts.ReplaceMeta,
		permissions: opts.Permissions,
		srcNode:     &node,
		srcVersion:  props.Serial,
		isCopy:      isCopy,
		reportSize:  !isMove,
	})
	if err != nil {
		return 0, err
	}

	if isMove && !sameObject {
		if err := s.deleteObject(ctx, user, src.Account, src.Container, src.Name, time.Time{}, "", false); err != nil {
			return 0, err
		}
	}

	if opts.Delimiter == "" {
		return dest0, nil
	}

	prefix := withDelimiter(src.Name, opts.Delimiter)
	destPrefix := withDelimiter(dest.Name, opts.Delimiter)
	srcContainerPath, srcContainerNode, err := s.lookupContainer(ctx, src.Account, src.Container)
	if err != nil {
		return 0, err
	}
	children, err := s.listChildren(ctx, srcContainerPath, srcContainerNode, prefix)
	if err != nil {
		return 0, err
	}

	for _, child := range children {
		if child.Version == nil {
			continue
		}
		name := strings.TrimPrefix(child.Path, srcContainerPath+"/")
		if err := s.canReadObject(ctx, user, src.Account, src.Container, name); err != nil {
			return 0, err
		}

		childNode := child.Version.Node
		_, err := s.updateObjectHash(ctx, user, dest.Account, dest.Container, destPrefix+strings.TrimPrefix(name, prefix), objectHash{
			size:       child.Version.Size,
			typ:        child.Version.Type,
			hash:       child.Version.Hash,
			domain:     opts.Domain,
			srcNode:    &childNode,
			srcVersion: child.Version.Serial,
			isCopy:     isCopy,
			reportSize: !isMove,
		})
		if err != nil {
			return 0, err
		}

		if isMove && !sameObject {
			if err := s.deleteObject(ctx, user, src.Account, src.Container, name, time.Time{}, "", false); err != nil {
				return 0, err
			}
		}
	}
	return dest0, nil
}

func withDelimiter(name string, delimiter string) string {
	if strings.HasSuffix(name, delimiter) {
		return name
	}
	return name + delimiter
}

// DeleteObject marks the object deleted. With until it instead purges the
// versions of the object older than until. With delimiter every object
// named below it is deleted too.
func (s *Session) DeleteObject(ctx context.Context, user string, account string, container string, name string, until time.Time, delimiter string) error {
	return s.deleteObject(ctx, user, account, container, name, until, delimiter, true)
}

func (s *Session) deleteObject(ctx context.Context, user string, account string, container string, name string, until time.Time, delimiter string, reportSize bool) error {
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return err
	}

	path, node, err := s.lookupObject(ctx, account, container, name, true)
	if err != nil {
		return err
	}

	if !until.IsZero() {
		return s.purgeObject(ctx, user, account, path, node, until)
	}

	ok, err := s.exists(ctx, node)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("object %s is deleted: %w", path, ErrItemNotExists)
	}
	if err := s.tombstone(ctx, user, account, container, path, node, reportSize); err != nil {
		return err
	}

	if delimiter == "" {
		return nil
	}

	containerPath, containerNode, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return err
	}
	return s.deleteChildren(ctx, user, account, container, containerPath, containerNode, withDelimiter(name, delimiter), reportSize)
}

// tombstone writes a deleted version of node and drops its access list and
// public token.
func (s *Session) tombstone(ctx context.Context, user string, account string, container string, path string, node metadata.Node, reportSize bool) error {
	if err := s.markDeleted(ctx, user, account, container, path, node, reportSize); err != nil {
		return err
	}
	if err := s.perms.AccessClear(ctx, path); err != nil {
		return err
	}
	return s.perms.PublicUnset(ctx, path)
}

// markDeleted writes a deleted version of node, leaving its permissions.
func (s *Session) markDeleted(ctx context.Context, user string, account string, container string, path string, node metadata.Node, reportSize bool) error {
	empty := ""
	pre, dest, err := s.putVersionDuplicate(ctx, user, node, duplicate{
		content:  true,
		checksum: &empty,
		cluster:  metadata.ClusterDeleted,
	})
	if err != nil {
		return err
	}

	freed, err := s.applyVersioning(ctx, account, container, pre)
	if err != nil {
		return err
	}
	if reportSize {
		err := s.reportSizeChange(ctx, user, account, -freed, map[string]any{
			"action":   "object delete",
			"path":     path,
			"versions": joinSerials([]int64{dest}),
		})
		if err != nil {
			return err
		}
	}
	s.reportObjectChange(user, account, path, map[string]any{"action": "object delete"})
	return nil
}

// deleteChildren tombstones every current object of the container whose
// name starts with prefix.
func (s *Session) deleteChildren(ctx context.Context, user string, account string, container string, containerPath string, containerNode metadata.Node, prefix string, reportSize bool) error {
	children, err := s.listChildren(ctx, containerPath, containerNode, prefix)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(children))
	for _, child := range children {
		if child.Version == nil {
			continue
		}
		name := strings.TrimPrefix(child.Path, containerPath+"/")
		if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
			return err
		}
		if err := s.markDeleted(ctx, user, account, container, child.Path, child.Version.Node, reportSize); err != nil {
			return err
		}
		paths = append(paths, child.Path)
	}

	if err := s.perms.AccessClearBulk(ctx, paths); err != nil {
		return err
	}
	return s.perms.PublicUnsetBulk(ctx, paths)
}

// purgeObject removes the versions of the object older than until and
// releases their block maps.
func (s *Session) purgeObject(ctx context.Context, user string, account string, path string, node metadata.Node, until time.Time) error {
	var (
		hashes  []string
		size    int64
		serials []int64
	)

	normal, err := s.nodes.NodePurge(ctx, node, until, metadata.ClusterNormal)
	if err != nil {
		return err
	}
	hashes = append(hashes, normal.Hashes...)
	size += normal.Size
	serials = append(serials, normal.Serials...)

	history, err := s.nodes.NodePurge(ctx, node, until, metadata.ClusterHistory)
	if err != nil {
		return err
	}
	hashes = append(hashes, history.Hashes...)
	if !s.b.cfg.FreeVersioning {
		size += history.Size
	}
	serials = append(serials, history.Serials...)

	deleted, err := s.nodes.NodePurge(ctx, node, until, metadata.ClusterDeleted)
	if err != nil {
		return err
	}
	hashes = append(hashes, deleted.Hashes...)

	for _, hash := range hashes {
		if err := s.releaseMap(ctx, hash); err != nil {
			return err
		}
	}

	ok, err := s.exists(ctx, node)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.perms.AccessClear(ctx, path); err != nil {
			return err
		}
	}

	return s.reportSizeChange(ctx, user, account, -size, map[string]any{
		"action":   "object purge",
		"path":     path,
		"versions": joinSerials(serials),
	})
}
