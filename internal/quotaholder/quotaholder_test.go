package quotaholder_test

import (
	"net/http/httptest"
	"pithos/internal/quotaholder"
	pquotaholder "pithos/pkg/quotaholder"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func provisions(delta int64) map[string]int64 {
	return map[string]int64{pquotaholder.DiskspaceResource: delta}
}

// clients returns the in-process holder and the same holder reached over
// HTTP.
func clients(t *testing.T) map[string]pquotaholder.Client {
	t.Helper()

	server := httptest.NewServer(quotaholder.NewHandler(quotaholder.NewMemory()))
	t.Cleanup(server.Close)

	return map[string]pquotaholder.Client{
		"memory": quotaholder.NewMemory(),
		"http":   quotaholder.NewHTTPClient(server.URL, 5*time.Second),
	}
}

func TestCommissionLifecycle(t *testing.T) {
	t.Parallel()

	for name, client := range clients(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			require.NoError(t, client.SetQuota(ctx, "token", "alice", 100))

			accepted, err := client.IssueOneCommission(ctx, "token", "alice", "system", provisions(60), "alice/c/a")
			require.NoError(t, err)
			rejected, err := client.IssueOneCommission(ctx, "token", "alice", "system", provisions(30), "alice/c/b")
			require.NoError(t, err)

			_, err = client.IssueOneCommission(ctx, "token", "alice", "system", provisions(20), "alice/c/c")
			require.ErrorIs(t, err, pquotaholder.ErrQuotaExceeded, "pending commissions count against the limit")

			pending, err := client.GetPendingCommissions(ctx, "token")
			require.NoError(t, err)
			require.ElementsMatch(t, []int64{accepted, rejected}, pending)

			resolution, err := client.ResolveCommissions(ctx, "token", []int64{accepted}, []int64{rejected, 999})
			require.NoError(t, err)
			require.Equal(t, []int64{accepted}, resolution.Accepted)
			require.Equal(t, []int64{rejected}, resolution.Rejected, "unknown serials are ignored")

			quota, err := client.GetQuota(ctx, "token", "alice")
			require.NoError(t, err)
			require.Equal(t, pquotaholder.Quota{Limit: 100, Usage: 60}, quota)

			serial, err := client.IssueOneCommission(ctx, "token", "alice", "system", provisions(-60), "alice/c/a")
			require.NoError(t, err, "shrinking is always allowed")
			_, err = client.ResolveCommissions(ctx, "token", []int64{serial}, nil)
			require.NoError(t, err)

			quota, err = client.GetQuota(ctx, "token", "alice")
			require.NoError(t, err)
			require.Zero(t, quota.Usage)
		})
	}
}

func TestUnlimitedHolder(t *testing.T) {
	t.Parallel()

	client := quotaholder.NewMemory()
	_, err := client.IssueOneCommission(t.Context(), "", "bob", "system", provisions(1<<40), "bob/c/big")
	require.NoError(t, err, "a zero limit is unlimited")

	require.Error(t, client.SetQuota(t.Context(), "", "bob", -1))
}
