package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

// ContainerMeta describes a container. A user other than the owner only
// sees Name and Modified.
type ContainerMeta struct {
	Name           string
	Count          int64
	Bytes          int64
	Usage          int64
	Modified       time.Time
	UntilTimestamp time.Time
	Meta           map[string]string
}

// ListContainers lists the containers of account. Other users see the
// containers holding paths shared with them. With shared or public the
// owner sees the containers holding shared or public objects.
func (s *Session) ListContainers(ctx context.Context, user string, account string, marker string, limit int, shared bool, public bool, until time.Time) ([]string, error) {
	if user != account {
		if !until.IsZero() {
			return nil, ErrNotAllowed
		}
		allowed, err := s.allowedContainers(ctx, user, account)
		if err != nil {
			return nil, err
		}
		start, n := listLimits(allowed, marker, limit)
		return allowed[start:min(start+n, len(allowed))], nil
	}

	if shared || public {
		var allowed []string
		if shared {
			paths, err := s.perms.AccessListShared(ctx, account+"/")
			if err != nil {
				return nil, err
			}
			for _, p := range paths {
				if parts := strings.SplitN(p, "/", 3); len(parts) > 1 {
					allowed = append(allowed, parts[1])
				}
			}
		}
		if public {
			links, err := s.perms.PublicList(ctx, account+"/")
			if err != nil {
				return nil, err
			}
			for _, link := range links {
				if parts := strings.SplitN(link.Path, "/", 3); len(parts) > 1 {
					allowed = append(allowed, parts[1])
				}
			}
		}
		slices.Sort(allowed)
		allowed = slices.Compact(allowed)

		start, n := listLimits(allowed, marker, limit)
		return allowed[start:min(start+n, len(allowed))], nil
	}

	node, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return nil, err
	}

	opts := metadata.ListOptions{
		Prefix:        account + "/",
		Limit:         clampLimit(limit),
		Before:        until,
		ExceptCluster: metadata.ClusterDeleted,
	}
	if marker != "" {
		opts.Marker = joinPath(account, marker)
	}

	entries, err := s.nodes.LatestVersionList(ctx, node, opts)
	if err != nil {
		return nil, err
	}

	containers := make([]string, 0, len(entries))
	for _, e := range entries {
		containers = append(containers, strings.TrimPrefix(e.Path, account+"/"))
	}
	return containers, nil
}

// ListContainerMeta lists the user defined metadata keys in use by the
// objects of the container that user may see.
func (s *Session) ListContainerMeta(ctx context.Context, user string, account string, container string, domain string, until time.Time) ([]string, error) {
	var allowed []string
	if user != account {
		if !until.IsZero() {
			return nil, ErrNotAllowed
		}
		paths, err := s.perms.AccessListPaths(ctx, user, joinPath(account, container), false, false)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, ErrNotAllowed
		}
		allowed, err = s.formattedPaths(ctx, paths)
		if err != nil {
			return nil, err
		}
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return nil, err
	}
	return s.nodes.AttributeKeys(ctx, node, domain, until, metadata.ClusterDeleted, allowed)
}

// GetContainerMeta returns the container description, as it was at until
// when that is not zero.
func (s *Session) GetContainerMeta(ctx context.Context, user string, account string, container string, domain string, until time.Time, includeUserDefined bool) (ContainerMeta, error) {
	meta := ContainerMeta{Name: container}

	if user != account {
		if !until.IsZero() {
			return meta, ErrNotAllowed
		}
		if err := s.canReadContainer(ctx, user, account, container); err != nil {
			return meta, err
		}
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return meta, err
	}
	props, err := s.getProperties(ctx, node, until)
	if err != nil {
		return meta, err
	}
	stats, err := s.getStatistics(ctx, node, until, false)
	if err != nil {
		return meta, err
	}

	meta.Modified = props.Mtime
	if stats.Mtime.After(meta.Modified) {
		meta.Modified = stats.Mtime
	}
	if user != account {
		return meta, nil
	}

	if includeUserDefined {
		meta.Meta, err = s.nodes.AttributeGet(ctx, props.Serial, domain)
		if err != nil {
			return meta, err
		}
	}
	if !until.IsZero() {
		meta.UntilTimestamp = until
	}
	meta.Count = stats.Count
	meta.Bytes = stats.Size

	meta.Usage, err = s.usage(ctx, node)
	return meta, err
}

// UpdateContainerMeta sets the user defined metadata of the container and
// returns the new version.
func (s *Session) UpdateContainerMeta(ctx context.Context, user string, account string, container string, domain string, meta map[string]string, replace bool) (int64, error) {
	if user != account {
		return 0, ErrNotAllowed
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return 0, err
	}
	src, dest, err := s.putMetadata(ctx, user, node, domain, meta, replace)
	if err != nil {
		return 0, err
	}

	if src != 0 {
		policy, err := s.getPolicy(ctx, node, false)
		if err != nil {
			return 0, err
		}
		if policy[PolicyVersioning] != VersioningAuto {
			if _, _, err := s.nodes.VersionRemove(ctx, src); err != nil {
				return 0, err
			}
		}
	}
	return dest, nil
}

// GetContainerPolicy returns the container policy. Other users sharing
// paths in the container get an empty policy.
func (s *Session) GetContainerPolicy(ctx context.Context, user string, account string, container string) (map[string]string, error) {
	if user != account {
		if err := s.canReadContainer(ctx, user, account, container); err != nil {
			return nil, err
		}
		return map[string]string{}, nil
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return nil, err
	}
	return s.getPolicy(ctx, node, false)
}

func (s *Session) UpdateContainerPolicy(ctx context.Context, user string, account string, container string, policy map[string]string, replace bool) error {
	if user != account {
		return ErrNotAllowed
	}

	_, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return err
	}
	if err := checkPolicy(policy, s.b.cfg.DefaultContainerPolicy); err != nil {
		return err
	}
	return s.putPolicy(ctx, node, policy, replace, false)
}

// PutContainer creates a container with policy over the defaults. The
// account is created when missing.
func (s *Session) PutContainer(ctx context.Context, user string, account string, container string, policy map[string]string) error {
	if user != account {
		return ErrNotAllowed
	}
	if err := validName(container); err != nil {
		return err
	}

	accountNode, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return err
	}

	path := joinPath(account, container)
	_, ok, err := s.nodes.NodeLookup(ctx, path, false)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("container %s: %w", path, ErrContainerExists)
	}
	if err := checkPolicy(policy, s.b.cfg.DefaultContainerPolicy); err != nil {
		return err
	}

	node, err := s.putPath(ctx, user, accountNode, path)
	if err != nil {
		return err
	}
	return s.putPolicy(ctx, node, policy, true, false)
}

// DeleteContainer removes an empty container. With until it instead purges
// the history of the container's objects older than until. With delimiter
// it instead deletes every object under prefix.
func (s *Session) DeleteContainer(ctx context.Context, user string, account string, container string, until time.Time, prefix string, delimiter string) error {
	if user != account {
		return ErrNotAllowed
	}

	path, node, err := s.lookupContainer(ctx, account, container)
	if err != nil {
		return err
	}

	if !until.IsZero() {
		freed, err := s.purgeChildren(ctx, node, until)
		if err != nil {
			return err
		}
		if s.b.cfg.FreeVersioning {
			return nil
		}
		return s.reportSizeChange(ctx, user, account, -freed.Size, map[string]any{
			"action":   "container purge",
			"path":     path,
			"versions": joinSerials(freed.Serials),
		})
	}

	if delimiter != "" {
		return s.deleteChildren(ctx, user, account, container, path, node, prefix, true)
	}

	stats, err := s.nodes.StatisticsGet(ctx, node, metadata.ClusterNormal)
	if err != nil {
		return err
	}
	if stats.Count > 0 {
		return fmt.Errorf("container %s: %w", path, ErrContainerNotEmpty)
	}

	freed, err := s.purgeChildren(ctx, node, time.Time{})
	if err != nil {
		return err
	}
	removed, err := s.nodes.NodeRemove(ctx, node)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("container %s: %w", path, ErrContainerNotEmpty)
	}

	if s.b.cfg.FreeVersioning {
		return nil
	}
	return s.reportSizeChange(ctx, user, account, -freed.Size, map[string]any{
		"action":   "container delete",
		"path":     path,
		"versions": joinSerials(freed.Serials),
	})
}

// purgeChildren removes the history and tombstones of every object in the
// container older than until and releases their block maps. It returns
// what the history purge released.
func (s *Session) purgeChildren(ctx context.Context, node metadata.Node, until time.Time) (metadata.PurgeResult, error) {
	freed, err := s.nodes.NodePurgeChildren(ctx, node, until, metadata.ClusterHistory)
	if err != nil {
		return freed, err
	}
	deleted, err := s.nodes.NodePurgeChildren(ctx, node, until, metadata.ClusterDeleted)
	if err != nil {
		return freed, err
	}

	for _, hash := range slices.Concat(freed.Hashes, deleted.Hashes) {
		if err := s.releaseMap(ctx, hash); err != nil {
			return freed, err
		}
	}
	return freed, nil
}
