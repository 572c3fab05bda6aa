package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

// Access levels reported by GetObjectPermissions.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// getPermissionsPath returns the path whose access list governs the
// object: the object itself or its closest directory ancestor carrying an
// access list. It returns "" when nothing governs the object.
func (s *Session) getPermissionsPath(ctx context.Context, account string, container string, name string) (string, error) {
	path := joinPath(account, container, name)

	candidates, err := s.perms.AccessInherit(ctx, path)
	if err != nil {
		return "", err
	}
	slices.Sort(candidates)
	slices.Reverse(candidates)

	for _, p := range candidates {
		if p == path {
			return p, nil
		}
		if strings.Count(p, "/") < 2 {
			continue
		}

		node, ok, err := s.nodes.NodeLookup(ctx, p, false)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		v, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
		if err != nil {
			return "", err
		}
		if ok && isDirectoryType(v.Type) {
			return p, nil
		}
	}
	return "", nil
}

func (s *Session) isPublic(ctx context.Context, path string) (bool, error) {
	_, ok, err := s.perms.PublicGet(ctx, path)
	return ok, err
}

// canReadObject grants the owner, anyone when the object or its governing
// path is public, and members of the read or write list of the governing
// path.
func (s *Session) canReadObject(ctx context.Context, user string, account string, container string, name string) error {
	if user == account {
		return nil
	}

	public, err := s.isPublic(ctx, joinPath(account, container, name))
	if err != nil || public {
		return err
	}

	governing, err := s.getPermissionsPath(ctx, account, container, name)
	if err != nil {
		return err
	}
	if governing == "" {
		return ErrNotAllowed
	}

	public, err = s.isPublic(ctx, governing)
	if err != nil || public {
		return err
	}

	for _, mode := range []metadata.AccessMode{metadata.AccessRead, metadata.AccessWrite} {
		ok, err := s.perms.AccessCheck(ctx, governing, mode, user)
		if err != nil || ok {
			return err
		}
	}
	return ErrNotAllowed
}

// canWriteObject grants the owner and members of the write list of the
// governing path.
func (s *Session) canWriteObject(ctx context.Context, user string, account string, container string, name string) error {
	if user == account {
		return nil
	}

	governing, err := s.getPermissionsPath(ctx, account, container, name)
	if err != nil {
		return err
	}
	if governing == "" {
		return ErrNotAllowed
	}

	ok, err := s.perms.AccessCheck(ctx, governing, metadata.AccessWrite, user)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}
	return nil
}

// allowedAccounts lists the accounts holding paths shared with user.
func (s *Session) allowedAccounts(ctx context.Context, user string) ([]string, error) {
	paths, err := s.perms.AccessListPaths(ctx, user, "", false, false)
	if err != nil {
		return nil, err
	}

	accounts := make([]string, 0, len(paths))
	for _, p := range paths {
		account, _, _ := strings.Cut(p, "/")
		accounts = append(accounts, account)
	}
	slices.Sort(accounts)
	return slices.Compact(accounts), nil
}

// allowedContainers lists the containers of account holding paths shared
// with user.
func (s *Session) allowedContainers(ctx context.Context, user string, account string) ([]string, error) {
	paths, err := s.perms.AccessListPaths(ctx, user, account+"/", false, false)
	if err != nil {
		return nil, err
	}

	containers := make([]string, 0, len(paths))
	for _, p := range paths {
		parts := strings.SplitN(p, "/", 3)
		if len(parts) < 2 || parts[0] != account {
			continue
		}
		containers = append(containers, parts[1])
	}
	slices.Sort(containers)
	return slices.Compact(containers), nil
}

func (s *Session) canReadAccount(ctx context.Context, user string, account string) error {
	if user == account {
		return nil
	}
	allowed, err := s.allowedAccounts(ctx, user)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, account) {
		return ErrNotAllowed
	}
	return nil
}

func (s *Session) canReadContainer(ctx context.Context, user string, account string, container string) error {
	if user == account {
		return nil
	}
	allowed, err := s.allowedContainers(ctx, user, account)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, container) {
		return ErrNotAllowed
	}
	return nil
}

// formattedPaths turns granted paths into listing restrictions. A
// directory also admits every path below it.
func (s *Session) formattedPaths(ctx context.Context, paths []string) ([]string, error) {
	formatted := make([]string, 0, len(paths))
	for _, p := range paths {
		node, ok, err := s.nodes.NodeLookup(ctx, p, false)
		if err != nil {
			return nil, err
		}
		if ok {
			v, ok, err := s.nodes.VersionLookup(ctx, node, time.Time{}, metadata.ClusterNormal)
			if err != nil {
				return nil, err
			}
			if ok && isDirectoryType(v.Type) {
				formatted = append(formatted, strings.TrimRight(p, "/")+"/")
			}
		}
		formatted = append(formatted, p)
	}
	slices.Sort(formatted)
	return slices.Compact(formatted), nil
}

func checkPermissions(perms metadata.Permissions) error {
	for _, member := range slices.Concat(perms.Read, perms.Write) {
		if member == "" || strings.ContainsAny(member, ", \t\n") {
			return fmt.Errorf("%w: bad permission member %q", ErrInvalidArgument, member)
		}
	}
	return nil
}

// GetObjectPermissions returns the access level of user on the object,
// the governing path and its access list.
func (s *Session) GetObjectPermissions(ctx context.Context, user string, account string, container string, name string) (string, string, metadata.Permissions, error) {
	var perms metadata.Permissions

	governing, err := s.getPermissionsPath(ctx, account, container, name)
	if err != nil {
		return "", "", perms, err
	}

	level := AccessWrite
	if user != account {
		if governing == "" {
			return "", "", perms, ErrNotAllowed
		}
		write, err := s.perms.AccessCheck(ctx, governing, metadata.AccessWrite, user)
		if err != nil {
			return "", "", perms, err
		}
		read, err := s.perms.AccessCheck(ctx, governing, metadata.AccessRead, user)
		if err != nil {
			return "", "", perms, err
		}
		switch {
		case write:
			level = AccessWrite
		case read:
			level = AccessRead
		default:
			return "", "", perms, ErrNotAllowed
		}
	}

	if _, _, err := s.lookupObject(ctx, account, container, name, false); err != nil {
		return "", "", perms, err
	}

	if governing != "" {
		perms, err = s.perms.AccessGet(ctx, governing)
		if err != nil {
			return "", "", perms, err
		}
	}
	return level, governing, perms, nil
}

// UpdateObjectPermissions replaces the access list of the object. Only the
// owner may change it.
func (s *Session) UpdateObjectPermissions(ctx context.Context, user string, account string, container string, name string, perms metadata.Permissions) error {
	if user != account {
		return ErrNotAllowed
	}

	path, _, err := s.lookupObject(ctx, account, container, name, true)
	if err != nil {
		return err
	}
	if err := checkPermissions(perms); err != nil {
		return err
	}
	if err := s.perms.AccessSet(ctx, path, perms); err != nil {
		return err
	}
	return s.reportSharing(ctx, user, account, path)
}

func (s *Session) reportSharing(ctx context.Context, user string, account string, path string) error {
	members, err := s.perms.AccessMembers(ctx, path)
	if err != nil {
		return err
	}
	s.reportSharingChange(user, account, path, map[string]any{"members": members})
	return nil
}

// GetObjectPublic returns the public token of the object, if any.
func (s *Session) GetObjectPublic(ctx context.Context, user string, account string, container string, name string) (string, bool, error) {
	if err := s.canReadObject(ctx, user, account, container, name); err != nil {
		return "", false, err
	}
	path, _, err := s.lookupObject(ctx, account, container, name, false)
	if err != nil {
		return "", false, err
	}
	return s.perms.PublicGet(ctx, path)
}

// UpdateObjectPublic creates or removes the public token of the object.
func (s *Session) UpdateObjectPublic(ctx context.Context, user string, account string, container string, name string, public bool) error {
	if err := s.canWriteObject(ctx, user, account, container, name); err != nil {
		return err
	}
	path, _, err := s.lookupObject(ctx, account, container, name, true)
	if err != nil {
		return err
	}

	if !public {
		return s.perms.PublicUnset(ctx, path)
	}
	_, err = s.perms.PublicSet(ctx, path, s.b.cfg.PublicURLSecurity, s.b.cfg.PublicURLAlphabet)
	return err
}

// GetPublic resolves a public token to the account, container and name of
// the object it exposes.
func (s *Session) GetPublic(ctx context.Context, user string, token string) (string, string, string, error) {
	path, ok, err := s.perms.PublicPath(ctx, token)
	if err != nil {
		return "", "", "", err
	}
	if !ok {
		return "", "", "", fmt.Errorf("public token: %w", ErrItemNotExists)
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

func splitObjectPath(path string) (string, string, string, error) {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: bad object path %q", ErrInvalidArgument, path)
	}
	return parts[0], parts[1], parts[2], nil
}

// listObjectPermissions returns the object paths user may list under
// account/container/prefix. For a non-owner these are the paths shared
// with them. For the owner they are the shared and/or public paths, and an
// empty result when neither is requested.
func (s *Session) listObjectPermissions(ctx context.Context, user string, account string, container string, prefix string, shared bool, public bool) ([]string, error) {
	path := strings.TrimRight(joinPath(account, container, prefix), "/")

	if user != account {
		allowed, err := s.perms.AccessListPaths(ctx, user, path, false, false)
		if err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			return nil, ErrNotAllowed
		}
		return allowed, nil
	}

	allowed := make([]string, 0)
	if shared {
		paths, err := s.perms.AccessListShared(ctx, path)
		if err != nil {
			return nil, err
		}
		allowed = append(allowed, paths...)
	}
	if public {
		links, err := s.perms.PublicList(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			allowed = append(allowed, link.Path)
		}
	}
	slices.Sort(allowed)
	return slices.Compact(allowed), nil
}

// ListObjectPermissions lists the shared object paths under prefix.
func (s *Session) ListObjectPermissions(ctx context.Context, user string, account string, container string, prefix string) ([]string, error) {
	return s.listObjectPermissions(ctx, user, account, container, prefix, true, false)
}

// ListObjectPublic maps the public object paths under prefix to their
// tokens. Only the owner may list them.
func (s *Session) ListObjectPublic(ctx context.Context, user string, account string, container string, prefix string) (map[string]string, error) {
	if user != account {
		return nil, ErrNotAllowed
	}

	links, err := s.perms.PublicList(ctx, joinPath(account, container, prefix))
	if err != nil {
		return nil, err
	}

	public := make(map[string]string, len(links))
	for _, link := range links {
		public[link.Path] = link.Token
	}
	return public, nil
}
