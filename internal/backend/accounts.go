package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pithos/pkg/metadata"
)

// AccountMeta describes an account. A user other than the owner only sees
// Name and Modified.
type AccountMeta struct {
	Name string
	// Count is the number of containers and Bytes the size of their
	// current objects.
	Count int64
	Bytes int64
	// Usage is what the account is charged for: current and history
	// versions.
	Usage          int64
	Modified       time.Time
	UntilTimestamp time.Time
	Meta           map[string]string
}

// ListAccounts lists the accounts sharing paths with user.
func (s *Session) ListAccounts(ctx context.Context, user string, marker string, limit int) ([]string, error) {
	allowed, err := s.allowedAccounts(ctx, user)
	if err != nil {
		return nil, err
	}
	start, n := listLimits(allowed, marker, limit)
	return allowed[start:min(start+n, len(allowed))], nil
}

// GetAccountMeta returns the account description, as it was at until when
// that is not zero. The owner's account is created when missing.
func (s *Session) GetAccountMeta(ctx context.Context, user string, account string, domain string, until time.Time, includeUserDefined bool) (AccountMeta, error) {
	meta := AccountMeta{Name: account}

	node, ok, err := s.lookupAccount(ctx, account, user == account)
	if err != nil {
		return meta, err
	}
	if user != account {
		if !until.IsZero() || !ok {
			return meta, ErrNotAllowed
		}
		if err := s.canReadAccount(ctx, user, account); err != nil {
			return meta, err
		}
	}

	props, err := s.getProperties(ctx, node, until)
	if err != nil {
		return meta, err
	}
	stats, err := s.getStatistics(ctx, node, until, true)
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

	if s.b.UsingExternalQuotaholder() {
		quota, err := s.b.cfg.Quotaholder.GetQuota(ctx, s.b.cfg.ServiceToken, account)
		if err != nil {
			return meta, fmt.Errorf("get quota of %s: %w", account, err)
		}
		meta.Usage = quota.Usage
		return meta, nil
	}

	meta.Usage, err = s.usage(ctx, node)
	return meta, err
}

// UpdateAccountMeta sets the user defined metadata of the account. With
// replace the previous metadata of the domain is dropped first.
func (s *Session) UpdateAccountMeta(ctx context.Context, user string, account string, domain string, meta map[string]string, replace bool) error {
	if user != account {
		return ErrNotAllowed
	}

	node, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return err
	}
	_, _, err = s.putMetadata(ctx, user, node, domain, meta, replace)
	return err
}

// GetAccountGroups returns the groups of the account. Other users sharing
// paths of the account get an empty result.
func (s *Session) GetAccountGroups(ctx context.Context, user string, account string) (map[string][]string, error) {
	if user != account {
		if err := s.canReadAccount(ctx, user, account); err != nil {
			return nil, err
		}
		return map[string][]string{}, nil
	}

	if _, _, err := s.lookupAccount(ctx, account, true); err != nil {
		return nil, err
	}
	return s.perms.GroupDict(ctx, account)
}

func checkGroups(groups map[string][]string) error {
	for name, members := range groups {
		if name == "" || strings.ContainsAny(name, ":, \t\n") {
			return fmt.Errorf("%w: bad group name %q", ErrInvalidArgument, name)
		}
		for _, member := range members {
			if member == "" || strings.ContainsAny(member, ", \t\n") {
				return fmt.Errorf("%w: bad member %q in group %s", ErrInvalidArgument, member, name)
			}
		}
	}
	return nil
}

// UpdateAccountGroups stores groups. With replace every existing group is
// removed first, otherwise only the named groups are rewritten. A group
// with no members is deleted.
func (s *Session) UpdateAccountGroups(ctx context.Context, user string, account string, groups map[string][]string, replace bool) error {
	if user != account {
		return ErrNotAllowed
	}
	if err := checkGroups(groups); err != nil {
		return err
	}
	if _, _, err := s.lookupAccount(ctx, account, true); err != nil {
		return err
	}

	if replace {
		if err := s.perms.GroupDestroy(ctx, account); err != nil {
			return err
		}
	}
	for name, members := range groups {
		if !replace {
			if err := s.perms.GroupDelete(ctx, account, name); err != nil {
				return err
			}
		}
		if len(members) == 0 {
			continue
		}
		if err := s.perms.GroupAddMany(ctx, account, name, members); err != nil {
			return err
		}
	}
	return nil
}

// GetAccountPolicy returns the policy of the account. With an external
// quotaholder the quota is the limit it holds.
func (s *Session) GetAccountPolicy(ctx context.Context, user string, account string) (map[string]string, error) {
	if user != account {
		if err := s.canReadAccount(ctx, user, account); err != nil {
			return nil, err
		}
		return map[string]string{}, nil
	}

	node, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return nil, err
	}
	policy, err := s.getPolicy(ctx, node, true)
	if err != nil {
		return nil, err
	}

	if s.b.UsingExternalQuotaholder() {
		quota, err := s.b.cfg.Quotaholder.GetQuota(ctx, s.b.cfg.ServiceToken, account)
		if err != nil {
			return nil, fmt.Errorf("get quota of %s: %w", account, err)
		}
		policy[PolicyQuota] = strconv.FormatInt(quota.Limit, 10)
	}
	return policy, nil
}

func (s *Session) UpdateAccountPolicy(ctx context.Context, user string, account string, policy map[string]string, replace bool) error {
	if user != account {
		return ErrNotAllowed
	}
	if err := checkPolicy(policy, s.b.cfg.DefaultAccountPolicy); err != nil {
		return err
	}

	node, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return err
	}
	return s.putPolicy(ctx, node, policy, replace, true)
}

// PutAccount creates an account with policy over the defaults.
func (s *Session) PutAccount(ctx context.Context, user string, account string, policy map[string]string) error {
	if user != account {
		return ErrNotAllowed
	}
	if err := validName(account); err != nil {
		return err
	}

	_, ok, err := s.nodes.NodeLookup(ctx, account, false)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("account %s: %w", account, ErrAccountExists)
	}
	if err := checkPolicy(policy, s.b.cfg.DefaultAccountPolicy); err != nil {
		return err
	}

	node, err := s.putPath(ctx, user, metadata.RootNode, account)
	if err != nil {
		return err
	}
	return s.putPolicy(ctx, node, policy, true, true)
}

// DeleteAccount removes an account without containers together with its
// groups. Deleting a missing account is not an error.
func (s *Session) DeleteAccount(ctx context.Context, user string, account string) error {
	if user != account {
		return ErrNotAllowed
	}

	node, ok, err := s.nodes.NodeLookup(ctx, account, false)
	if err != nil || !ok {
		return err
	}

	removed, err := s.nodes.NodeRemove(ctx, node)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("account %s: %w", account, ErrAccountNotEmpty)
	}
	return s.perms.GroupDestroy(ctx, account)
}
