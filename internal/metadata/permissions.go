package metadata

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"pithos/pkg/metadata"

	"github.com/mattn/go-sqlite3"
)

// publicTokenAttempts bounds the retries when a generated token collides
// with an existing one.
const publicTokenAttempts = 8

type permissionStore struct {
	tx *sql.Tx
}

func (p *permissionStore) featureID(ctx context.Context, path string) (int64, bool, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `SELECT feature_id FROM xfeatures WHERE path = ?`, path).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup access list of %q: %w", path, err)
	}
	return id, true, nil
}

// memberGroups returns the "owner:group" names member belongs to.
func (p *permissionStore) memberGroups(ctx context.Context, member string) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx, `SELECT owner, name FROM groups WHERE member = ?`, member)
	if err != nil {
		return nil, fmt.Errorf("groups of %q: %w", member, err)
	}
	defer rows.Close()

	groups := make([]string, 0)
	for rows.Next() {
		var owner, name string
		if err := rows.Scan(&owner, &name); err != nil {
			return nil, err
		}
		groups = append(groups, owner+":"+name)
	}
	return groups, rows.Err()
}

func (p *permissionStore) groupMembers(ctx context.Context, owner string, name string) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx, `SELECT member FROM groups WHERE owner = ? AND name = ? ORDER BY member`, owner, name)
	if err != nil {
		return nil, fmt.Errorf("members of group %s:%s: %w", owner, name, err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// identities is everything an access list may name to grant member access.
func (p *permissionStore) identities(ctx context.Context, member string) ([]string, error) {
	groups, err := p.memberGroups(ctx, member)
	if err != nil {
		return nil, err
	}
	return append([]string{member, "*"}, groups...), nil
}

func (p *permissionStore) AccessCheck(ctx context.Context, path string, mode metadata.AccessMode, member string) (bool, error) {
	ids, err := p.identities(ctx, member)
	if err != nil {
		return false, err
	}

	var granted bool
	err = p.tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM xfeaturevals fv JOIN xfeatures f ON f.feature_id = fv.feature_id
			WHERE f.path = ? AND fv.key = ? AND fv.value IN (`+placeholders(len(ids))+`)
		)`,
		append([]any{path, int(mode)}, stringArgs(ids)...)...,
	).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("check access to %q: %w", path, err)
	}
	return granted, nil
}

func (p *permissionStore) AccessGet(ctx context.Context, path string) (metadata.Permissions, error) {
	var perms metadata.Permissions

	rows, err := p.tx.QueryContext(ctx, `
		SELECT fv.key, fv.value
		FROM xfeaturevals fv JOIN xfeatures f ON f.feature_id = fv.feature_id
		WHERE f.path = ?
		ORDER BY fv.key, fv.value`,
		path,
	)
	if err != nil {
		return perms, fmt.Errorf("get access list of %q: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   int
			value string
		)
		if err := rows.Scan(&key, &value); err != nil {
			return perms, err
		}
		switch metadata.AccessMode(key) {
		case metadata.AccessRead:
			perms.Read = append(perms.Read, value)
		case metadata.AccessWrite:
			perms.Write = append(perms.Write, value)
		}
	}
	return perms, rows.Err()
}

func (p *permissionStore) AccessSet(ctx context.Context, path string, perms metadata.Permissions) error {
	if err := p.AccessClear(ctx, path); err != nil {
		return err
	}
	if perms.Empty() {
		return nil
	}

	res, err := p.tx.ExecContext(ctx, `INSERT INTO xfeatures(path) VALUES(?)`, path)
	if err != nil {
		return fmt.Errorf("create access list of %q: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	insert := func(mode metadata.AccessMode, members []string) error {
		for _, member := range members {
			_, err := p.tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO xfeaturevals(feature_id, key, value) VALUES(?, ?, ?)`,
				id, int(mode), member,
			)
			if err != nil {
				return fmt.Errorf("grant %q on %q: %w", member, path, err)
			}
		}
		return nil
	}

	if err := insert(metadata.AccessRead, perms.Read); err != nil {
		return err
	}
	return insert(metadata.AccessWrite, perms.Write)
}

func (p *permissionStore) AccessClear(ctx context.Context, path string) error {
	id, ok, err := p.featureID(ctx, path)
	if err != nil || !ok {
		return err
	}

	if _, err := p.tx.ExecContext(ctx, `DELETE FROM xfeaturevals WHERE feature_id = ?`, id); err != nil {
		return fmt.Errorf("clear access list of %q: %w", path, err)
	}
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM xfeatures WHERE feature_id = ?`, id); err != nil {
		return fmt.Errorf("clear access list of %q: %w", path, err)
	}
	return nil
}

func (p *permissionStore) AccessClearBulk(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := p.AccessClear(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// inheritCandidates lists path and its ancestors below the account, each
// in both its plain and its trailing-slash form.
func inheritCandidates(path string) []string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")

	candidates := make([]string, 0, 2*len(parts))
	for i := 1; i < len(parts); i++ {
		sub := strings.Join(parts[:i+1], "/")
		candidates = append(candidates, sub)
		if sub != path {
			candidates = append(candidates, sub+"/")
		}
	}
	return candidates
}

func (p *permissionStore) AccessInherit(ctx context.Context, path string) ([]string, error) {
	candidates := inheritCandidates(path)
	if len(candidates) == 0 {
		return []string{}, nil
	}

	rows, err := p.tx.QueryContext(ctx,
		`SELECT path FROM xfeatures WHERE path IN (`+placeholders(len(candidates))+`) ORDER BY path`,
		stringArgs(candidates)...,
	)
	if err != nil {
		return nil, fmt.Errorf("inherit access of %q: %w", path, err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (p *permissionStore) AccessListPaths(ctx context.Context, member string, prefix string, includeOwned bool, includeContainers bool) ([]string, error) {
	ids, err := p.identities(ctx, member)
	if err != nil {
		return nil, err
	}

	rows, err := p.tx.QueryContext(ctx, `
		SELECT DISTINCT f.path
		FROM xfeatures f JOIN xfeaturevals fv ON fv.feature_id = f.feature_id
		WHERE fv.value IN (`+placeholders(len(ids))+`)
		ORDER BY f.path`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list paths shared with %q: %w", member, err)
	}
	granted, err := scanStrings(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(granted))
	for _, path := range granted {
		// Keep paths under prefix and the ancestors that grant access to it.
		if prefix == "" || strings.HasPrefix(path, prefix) || strings.HasPrefix(prefix, path) {
			paths = append(paths, path)
		}
	}

	if includeOwned {
		owned, err := p.ownedPaths(ctx, member, includeContainers)
		if err != nil {
			return nil, err
		}
		for _, path := range owned {
			if prefix == "" || strings.HasPrefix(path, prefix) {
				paths = append(paths, path)
			}
		}
	}

	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// ownedPaths returns the objects in the containers of account, and the
// containers themselves when includeContainers is set.
func (p *permissionStore) ownedPaths(ctx context.Context, account string, includeContainers bool) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx, `
		SELECT c.path, o.path
		FROM nodes a
		JOIN nodes c ON c.parent = a.node AND c.node != c.parent
		LEFT JOIN nodes o ON o.parent = c.node AND o.node != o.parent
		WHERE a.path = ?
		ORDER BY c.path, o.path`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("list paths owned by %q: %w", account, err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var (
			container string
			object    sql.NullString
		)
		if err := rows.Scan(&container, &object); err != nil {
			return nil, err
		}
		if includeContainers {
			paths = append(paths, container)
		}
		if object.Valid {
			paths = append(paths, object.String)
		}
	}
	return paths, rows.Err()
}

func (p *permissionStore) AccessListShared(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx,
		`SELECT path FROM xfeatures WHERE `+prefixMatch("path")+` ORDER BY path`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list shared paths under %q: %w", prefix, err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (p *permissionStore) AccessMembers(ctx context.Context, path string) ([]string, error) {
	perms, err := p.AccessGet(ctx, path)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(perms.Read)+len(perms.Write))
	for _, member := range slices.Concat(perms.Read, perms.Write) {
		owner, group, isGroup := strings.Cut(member, ":")
		if !isGroup {
			members = append(members, member)
			continue
		}
		expanded, err := p.groupMembers(ctx, owner, group)
		if err != nil {
			return nil, err
		}
		members = append(members, expanded...)
	}

	slices.Sort(members)
	return slices.Compact(members), nil
}

func (p *permissionStore) PublicGet(ctx context.Context, path string) (string, bool, error) {
	var token string
	err := p.tx.QueryRowContext(ctx, `SELECT url FROM public WHERE path = ? AND active = 1`, path).Scan(&token)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get public token of %q: %w", path, err)
	}
	return token, true, nil
}

// randomToken draws length characters uniformly from alphabet.
func randomToken(length int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))

	var sb strings.Builder
	sb.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String(), nil
}

func (p *permissionStore) PublicSet(ctx context.Context, path string, length int, alphabet string) (string, error) {
	if token, ok, err := p.PublicGet(ctx, path); err != nil || ok {
		return token, err
	}
	if length <= 0 || alphabet == "" {
		return "", fmt.Errorf("invalid public token parameters: length %d, alphabet %q", length, alphabet)
	}

	for range publicTokenAttempts {
		token, err := randomToken(length, alphabet)
		if err != nil {
			return "", fmt.Errorf("generate public token: %w", err)
		}

		_, err = p.tx.ExecContext(ctx, `
			INSERT INTO public(path, active, url) VALUES(?, 1, ?)
			ON CONFLICT(path) DO UPDATE SET active = 1, url = excluded.url`,
			path, token,
		)
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("set public token of %q: %w", path, err)
		}
		return token, nil
	}
	return "", fmt.Errorf("set public token of %q: no unique token after %d attempts", path, publicTokenAttempts)
}

func (p *permissionStore) PublicUnset(ctx context.Context, path string) error {
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM public WHERE path = ?`, path); err != nil {
		return fmt.Errorf("unset public token of %q: %w", path, err)
	}
	return nil
}

func (p *permissionStore) PublicUnsetBulk(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := p.tx.ExecContext(ctx, `DELETE FROM public WHERE path IN (`+placeholders(len(paths))+`)`, stringArgs(paths)...)
	if err != nil {
		return fmt.Errorf("unset public tokens: %w", err)
	}
	return nil
}

func (p *permissionStore) PublicList(ctx context.Context, prefix string) ([]metadata.PublicLink, error) {
	rows, err := p.tx.QueryContext(ctx,
		`SELECT path, url FROM public WHERE active = 1 AND `+prefixMatch("path")+` ORDER BY path`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list public paths under %q: %w", prefix, err)
	}
	defer rows.Close()

	links := make([]metadata.PublicLink, 0)
	for rows.Next() {
		var link metadata.PublicLink
		if err := rows.Scan(&link.Path, &link.Token); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (p *permissionStore) PublicPath(ctx context.Context, token string) (string, bool, error) {
	var path string
	err := p.tx.QueryRowContext(ctx, `SELECT path FROM public WHERE url = ? AND active = 1`, token).Scan(&path)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("resolve public token: %w", err)
	}
	return path, true, nil
}

func (p *permissionStore) GroupDict(ctx context.Context, owner string) (map[string][]string, error) {
	rows, err := p.tx.QueryContext(ctx, `SELECT name, member FROM groups WHERE owner = ? ORDER BY name, member`, owner)
	if err != nil {
		return nil, fmt.Errorf("groups of %q: %w", owner, err)
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var name, member string
		if err := rows.Scan(&name, &member); err != nil {
			return nil, err
		}
		groups[name] = append(groups[name], member)
	}
	return groups, rows.Err()
}

func (p *permissionStore) GroupAddMany(ctx context.Context, owner string, group string, members []string) error {
	for _, member := range members {
		_, err := p.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO groups(owner, name, member) VALUES(?, ?, ?)`,
			owner, group, member,
		)
		if err != nil {
			return fmt.Errorf("add %q to group %s:%s: %w", member, owner, group, err)
		}
	}
	return nil
}

func (p *permissionStore) GroupDelete(ctx context.Context, owner string, group string) error {
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM groups WHERE owner = ? AND name = ?`, owner, group); err != nil {
		return fmt.Errorf("delete group %s:%s: %w", owner, group, err)
	}
	return nil
}

func (p *permissionStore) GroupDestroy(ctx context.Context, owner string) error {
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM groups WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("delete groups of %q: %w", owner, err)
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
