package quotaholder

import (
	"context"
	"errors"
)

// DiskspaceResource is the resource charged for stored bytes.
const DiskspaceResource = "pithos.diskspace"

// ErrQuotaExceeded is returned when a commission would take a holder over
// its limit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Resolution reports which commissions a resolve call settled.
type Resolution struct {
	Accepted []int64 `json:"accepted"`
	Rejected []int64 `json:"rejected"`
}

// Quota is the limit and current usage of one holder for one resource.
type Quota struct {
	Limit int64 `json:"limit"`
	Usage int64 `json:"usage"`
}

// Client is a commission based quota service. A commission reserves a
// change in usage that becomes final once accepted and is undone once
// rejected.
type Client interface {
	// IssueOneCommission reserves the provisions for holder and returns the
	// commission serial.
	IssueOneCommission(ctx context.Context, token string, holder string, source string, provisions map[string]int64, name string) (int64, error)

	// ResolveCommissions accepts and rejects pending commissions.
	ResolveCommissions(ctx context.Context, token string, accept []int64, reject []int64) (Resolution, error)

	// GetPendingCommissions lists the serials issued but not yet resolved.
	GetPendingCommissions(ctx context.Context, token string) ([]int64, error)

	GetQuota(ctx context.Context, token string, holder string) (Quota, error)
	SetQuota(ctx context.Context, token string, holder string, limit int64) error
}
