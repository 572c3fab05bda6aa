package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pithos/pkg/hashmap"
	"pithos/pkg/metadata"
	"pithos/pkg/storage"
)

// ObjectMeta describes one version of an object, or a common prefix when
// Subdir is set.
type ObjectMeta struct {
	Name   string
	Subdir string

	Bytes            int64
	Type             string
	Hash             string
	Version          int64
	VersionTimestamp time.Time
	// Modified is the time of the current version.
	Modified   time.Time
	ModifiedBy string
	UUID       string
	Checksum   string
	Meta       map[string]string
}

func objectMeta(name string, v metadata.Version) ObjectMeta {
	return ObjectMeta{
		Name:             name,
		Bytes:            v.Size,
		Type:             v.Type,
		Hash:             v.Hash,
		Version:          v.Serial,
		VersionTimestamp: v.Mtime,
		Modified:         v.Mtime,
		ModifiedBy:       v.MUser,
		UUID:             v.UUID,
		Checksum:         v.Checksum,
	}
}

// ObjectVersion is one entry of an object's history.
type ObjectVersion struct {
	Version   int64
	Timestamp time.Time
}

// GetObjectMeta describes version of the object, or its current version
// when version is zero.
func (s *Session) GetObjectMeta(ctx context.Context, user string, account string, container string, name string, domain string, version int64, includeUserDefined bool) (ObjectMeta, error) {
	if err := s.canReadObject(ctx, user, account, container, name); err != nil {
		return ObjectMeta{}, err
	}
	_, node, err := s.lookupObject(ctx, account, container, name, false)
	if err != nil {
		return ObjectMeta{}, err
	}
	props, err := s.getVersion(ctx, node, version)
	if err != nil {
		return ObjectMeta{}, err
	}

	meta := objectMeta(name, props)
	if version != 0 {
		meta.Modified = time.Time{}
		current, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
		if err != nil {
			return ObjectMeta{}, err
		}
		if ok {
			meta.Modified = current.Mtime
		}
	}

	if includeUserDefined {
		meta.Meta, err = s.nodes.AttributeGet(ctx, props.Serial, domain)
		if err != nil {
			return ObjectMeta{}, err
		}
	}
	return meta, nil
}

// UpdateObjectMeta sets the user defined metadata of the object and
// returns the new version.
func (s *Session) UpdateObjectMeta(ctx context.Context, user string, account string, container string, name string, domain string, meta map[string]string, replace bool) (int64, error) {
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return 0, err
	}
	path, node, err := s.lookupObject(ctx, account, container, name, true)
	if err != nil {
		return 0, err
	}
	if ok, err := s.exists(ctx, node); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("object %s: %w", path, ErrItemNotExists)
		}
		return 0, err
	}

	src, dest, err := s.putMetadata(ctx, user, node, domain, meta, replace)
	if err != nil {
		return 0, err
	}
	freed, err := s.applyVersioning(ctx, account, container, src)
	if err != nil {
		return 0, err
	}

	err = s.reportSizeChange(ctx, user, account, -freed, map[string]any{
		"action":   "object update",
		"path":     path,
		"versions": joinSerials([]int64{dest}),
	})
	if err != nil {
		return 0, err
	}
	s.reportObjectChange(user, account, path, map[string]any{"action": "object update", "version": dest})
	return dest, nil
}

// GetObjectHashmap returns the size and the hex block hashes of version of
// the object, or of its current version when version is zero.
func (s *Session) GetObjectHashmap(ctx context.Context, user string, account string, container string, name string, version int64) (int64, []string, error) {
	if err := s.canReadObject(ctx, user, account, container, name); err != nil {
		return 0, nil, err
	}
	_, node, err := s.lookupObject(ctx, account, container, name, false)
	if err != nil {
		return 0, nil, err
	}
	props, err := s.getVersion(ctx, node, version)
	if err != nil {
		return 0, nil, err
	}
	if props.Hash == "" {
		return 0, []string{}, nil
	}

	root, err := decodeHash(props.Hash)
	if err != nil {
		return 0, nil, err
	}
	hashes, err := s.b.cfg.Blocks.MapGet(ctx, root)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil, fmt.Errorf("hashmap %s: %w", props.Hash, ErrItemNotExists)
	}
	if err != nil {
		return 0, nil, err
	}
	return props.Size, hashmap.EncodeAll(hashes), nil
}

// ObjectUpdate is the content and metadata of a new object version.
type ObjectUpdate struct {
	Size int64
	Type string
	// Hashes are the hex hashes of the blocks of the content, in order.
	Hashes   []string
	Checksum string
	Domain   string
	Meta     map[string]string
	// ReplaceMeta drops the metadata of the previous version.
	ReplaceMeta bool
	// Permissions replace the access list of the object when not nil.
	Permissions *metadata.Permissions
}

// UpdateObjectHashmap creates a new version of the object from the hashes
// of its blocks and returns the version and the hex root hash. When blocks
// are missing from the block store it fails with an IncompleteUploadError
// listing them and creates nothing. Content of size zero is stored as the
// empty block.
func (s *Session) UpdateObjectHashmap(ctx context.Context, user string, account string, container string, name string, u ObjectUpdate) (int64, string, error) {
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return 0, "", err
	}
	if err := validObjectName(name); err != nil {
		return 0, "", err
	}
	if u.Size < 0 {
		return 0, "", fmt.Errorf("%w: negative object size %d", ErrInvalidArgument, u.Size)
	}
	if u.Size > int64(len(u.Hashes))*int64(s.b.cfg.BlockSize) {
		return 0, "", fmt.Errorf("%w: size %d exceeds %d blocks", ErrInvalidArgument, u.Size, len(u.Hashes))
	}

	hashes := u.Hashes
	if u.Size == 0 {
		empty, err := s.b.PutBlock(ctx, nil)
		if err != nil {
			return 0, "", err
		}
		hashes = []string{empty}
	}

	m, err := s.b.newHashMap()
	if err != nil {
		return 0, "", err
	}
	raw, err := hashmap.DecodeAll(hashes)
	if err != nil {
		return 0, "", err
	}
	m.Extend(raw...)

	missing, err := s.b.cfg.Blocks.BlockSearch(ctx, m.Hashes())
	if err != nil {
		return 0, "", err
	}
	if len(missing) > 0 {
		return 0, "", &IncompleteUploadError{Missing: hashmap.EncodeAll(missing)}
	}

	root := m.Hash()
	hash := fmt.Sprintf("%x", root)
	checksum := u.Checksum

	dest, err := s.updateObjectHash(ctx, user, account, container, name, objectHash{
		size:        u.Size,
		typ:         u.Type,
		hash:        hash,
		checksum:    &checksum,
		domain:      u.Domain,
		meta:        u.Meta,
		replaceMeta: u.ReplaceMeta,
		permissions: u.Permissions,
		reportSize:  true,
	})
	if err != nil {
		return 0, "", err
	}

	if err := s.b.cfg.Blocks.MapPut(ctx, root, m.Hashes()); err != nil {
		return 0, "", err
	}
	return dest, hash, nil
}

func validObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty object name", ErrInvalidArgument)
	}
	return nil
}

// objectHash is a new version of an object pointing at existing content.
type objectHash struct {
	size     int64
	typ      string
	hash     string
	checksum *string

	domain      string
	meta        map[string]string
	replaceMeta bool
	permissions *metadata.Permissions

	// srcNode and srcVersion name the version copied from.
	srcNode    *metadata.Node
	srcVersion int64
	isCopy     bool
	reportSize bool
}

// updateObjectHash creates the new version, applies the versioning policy
// of the container and enforces quota on the net size change.
func (s *Session) updateObjectHash(ctx context.Context, user string, account string, container string, name string, o objectHash) (int64, error) {
	if o.permissions != nil {
		if user != account {
			return 0, ErrNotAllowed
		}
		if err := checkPermissions(*o.permissions); err != nil {
			return 0, err
		}
	}
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return 0, err
	}

	accountNode, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return 0, err
	}
	containerPath, containerNode, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return 0, err
	}
	path, node, err := s.putObjectNode(ctx, containerPath, containerNode, name)
	if err != nil {
		return 0, err
	}

	pre, dest, err := s.putVersionDuplicate(ctx, user, node, duplicate{
		srcNode:  o.srcNode,
		content:  true,
		hash:     o.hash,
		size:     o.size,
		typ:      o.typ,
		checksum: o.checksum,
		cluster:  metadata.ClusterNormal,
		isCopy:   o.isCopy,
	})
	if err != nil {
		return 0, err
	}

	src := o.srcVersion
	if src == 0 {
		src = pre
	}
	if err := s.putMetadataDuplicate(ctx, src, dest, o.domain, node, o.meta, o.replaceMeta); err != nil {
		return 0, err
	}

	freed, err := s.applyVersioning(ctx, account, container, pre)
	if err != nil {
		return 0, err
	}

	delta := o.size - freed
	if delta > 0 {
		if err := s.checkQuota(ctx, accountNode, containerNode); err != nil {
			return 0, err
		}
	}

	if o.reportSize {
		err := s.reportSizeChange(ctx, user, account, delta, map[string]any{
			"action":   "object update",
			"path":     path,
			"versions": joinSerials([]int64{dest}),
		})
		if err != nil {
			return 0, err
		}
	}

	if o.permissions != nil {
		if err := s.perms.AccessSet(ctx, path, *o.permissions); err != nil {
			return 0, err
		}
		if err := s.reportSharing(ctx, user, account, path); err != nil {
			return 0, err
		}
	}

	s.reportObjectChange(user, account, path, map[string]any{"action": "object update", "version": dest})
	return dest, nil
}

// UpdateObjectChecksum records the checksum of a version in place.
func (s *Session) UpdateObjectChecksum(ctx context.Context, user string, account string, container string, name string, version int64, checksum string) error {
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return err
	}
	_, node, err := s.lookupObject(ctx, account, container, name, true)
	if err != nil {
		return err
	}
	props, err := s.getVersion(ctx, node, version)
	if err != nil {
		return err
	}
	return s.nodes.VersionSetChecksum(ctx, props.Serial, checksum)
}

// ListVersions lists the versions of the object, oldest first, leaving out
// tombstones.
func (s *Session) ListVersions(ctx context.Context, user string, account string, container string, name string) ([]ObjectVersion, error) {
	if err := s.canReadObject(ctx, user, account, container, name); err != nil {
		return nil, err
	}
	_, node, err := s.lookupObject(ctx, account, container, name, false)
	if err != nil {
		return nil, err
	}

	versions, err := s.nodes.NodeGetVersions(ctx, node)
	if err != nil {
		return nil, err
	}

	out := make([]ObjectVersion, 0, len(versions))
	for _, v := range versions {
		if v.Cluster == metadata.ClusterDeleted {
			continue
		}
		out = append(out, ObjectVersion{Version: v.Serial, Timestamp: v.Mtime})
	}
	return out, nil
}

// GetUUID resolves an object identity to the account, container and name
// of the object currently carrying it.
func (s *Session) GetUUID(ctx context.Context, user string, uuid string) (string, string, string, error) {
	path, _, ok, err := s.nodes.LatestUUID(ctx, uuid, metadata.ClusterNormal)
	if err != nil {
		return "", "", "", err
	}
	if !ok {
		return "", "", "", fmt.Errorf("uuid %s: %w", uuid, ErrItemNotExists)
	}

	account, container, name, err := splitObjectPath(path)
	if err != nil {
		return "", "", "", err
	}
	if err := s.canReadObject(ctx, user, account, container, name); err != nil {
		return "", "", "", err
	}
	return account, container, name, nil
}

// DomainObject is an object user may access that carries metadata in a
// domain.
type DomainObject struct {
	Path        string
	Meta        ObjectMeta
	Permissions metadata.Permissions
}

// GetDomainObjects lists the objects shared with or owned by user that
// carry metadata in domain.
func (s *Session) GetDomainObjects(ctx context.Context, user string, domain string) ([]DomainObject, error) {
	allowed, err := s.perms.AccessListPaths(ctx, user, "", user != "", false)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return []DomainObject{}, nil
	}

	objects, err := s.nodes.DomainObjectList(ctx, domain, allowed, metadata.ClusterNormal)
	if err != nil {
		return nil, err
	}

	out := make([]DomainObject, 0, len(objects))
	for _, obj := range objects {
		perms, err := s.perms.AccessGet(ctx, obj.Path)
		if err != nil {
			return nil, err
		}
		name := obj.Path
		if parts := strings.SplitN(obj.Path, "/", 3); len(parts) == 3 {
			name = parts[2]
		}
		meta := objectMeta(name, obj.Version)
		meta.Meta = obj.Attributes
		out = append(out, DomainObject{Path: obj.Path, Meta: meta, Permissions: perms})
	}
	return out, nil
}
