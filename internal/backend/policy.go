package backend

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"pithos/pkg/metadata"
)

// checkPolicy validates policy in place against the keys of defaults.
// Empty values are replaced by the defaults.
func checkPolicy(policy map[string]string, defaults map[string]string) error {
	for k, v := range policy {
		if v == "" {
			policy[k] = defaults[k]
		}
	}

	for k, v := range policy {
		if _, ok := defaults[k]; !ok {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidPolicy, k)
		}
		switch k {
		case PolicyQuota:
			q, err := strconv.ParseInt(v, 10, 64)
			if err != nil || q < 0 {
				return fmt.Errorf("%w: quota %q", ErrInvalidPolicy, v)
			}
		case PolicyVersioning:
			if v != VersioningAuto && v != VersioningNone {
				return fmt.Errorf("%w: versioning %q", ErrInvalidPolicy, v)
			}
		default:
			return fmt.Errorf("%w: unknown key %q", ErrInvalidPolicy, k)
		}
	}
	return nil
}

func (s *Session) defaultPolicy(isAccount bool) map[string]string {
	if isAccount {
		return s.b.cfg.DefaultAccountPolicy
	}
	return s.b.cfg.DefaultContainerPolicy
}

// getPolicy returns the stored policy of node over the defaults.
func (s *Session) getPolicy(ctx context.Context, node metadata.Node, isAccount bool) (map[string]string, error) {
	stored, err := s.nodes.PolicyGet(ctx, node)
	if err != nil {
		return nil, err
	}

	policy := maps.Clone(s.defaultPolicy(isAccount))
	maps.Copy(policy, stored)
	return policy, nil
}

// putPolicy stores policy. With replace, keys missing from policy are reset
// to their defaults.
func (s *Session) putPolicy(ctx context.Context, node metadata.Node, policy map[string]string, replace bool, isAccount bool) error {
	policy = maps.Clone(policy)
	if policy == nil {
		policy = make(map[string]string)
	}

	if replace {
		for k, v := range s.defaultPolicy(isAccount) {
			if _, ok := policy[k]; !ok {
				policy[k] = v
			}
		}
	}
	return s.nodes.PolicySet(ctx, node, policy)
}

// quotaOf reads the quota key of a policy. Zero means unlimited.
func quotaOf(policy map[string]string) int64 {
	q, _ := strconv.ParseInt(policy[PolicyQuota], 10, 64)
	return q
}

// checkQuota refuses the pending write when it took the account or the
// container over its quota. The account is only checked when quota is not
// delegated to an external quotaholder.
func (s *Session) checkQuota(ctx context.Context, accountNode metadata.Node, containerNode metadata.Node) error {
	if !s.b.UsingExternalQuotaholder() {
		policy, err := s.getPolicy(ctx, accountNode, true)
		if err != nil {
			return err
		}
		if quota := quotaOf(policy); quota > 0 {
			usage, err := s.usage(ctx, accountNode)
			if err != nil {
				return err
			}
			if usage > quota {
				s.b.metrics.QuotaRejections.WithLabelValues("account").Inc()
				return &QuotaError{Resource: "account", Limit: quota, Usage: usage}
			}
		}
	}

	policy, err := s.getPolicy(ctx, containerNode, false)
	if err != nil {
		return err
	}
	if quota := quotaOf(policy); quota > 0 {
		usage, err := s.usage(ctx, containerNode)
		if err != nil {
			return err
		}
		if usage > quota {
			s.b.metrics.QuotaRejections.WithLabelValues("container").Inc()
			return &QuotaError{Resource: "container", Limit: quota, Usage: usage}
		}
	}
	return nil
}
