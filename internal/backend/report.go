package backend

import (
	"context"
	"strconv"
	"strings"
	"time"

	"pithos/pkg/quotaholder"
	"pithos/pkg/queue"
)

func joinSerials(serials []int64) string {
	parts := make([]string, 0, len(serials))
	for _, serial := range serials {
		parts = append(parts, strconv.FormatInt(serial, 10))
	}
	return strings.Join(parts, ",")
}

// reportSizeChange buffers a diskspace event for a change of size bytes in
// account and, with an external quotaholder, issues the matching
// commission. A refused commission is a QuotaError.
func (s *Session) reportSizeChange(ctx context.Context, user string, account string, size int64, details map[string]any) error {
	if size == 0 {
		return nil
	}

	node, _, err := s.lookupAccount(ctx, account, true)
	if err != nil {
		return err
	}
	stats, err := s.getStatistics(ctx, node, time.Time{}, true)
	if err != nil {
		return err
	}

	details["user"] = user
	details["total"] = stats.Size
	s.messages = append(s.messages, queue.DiskspaceMessage(s.b.cfg.InstanceID, account, size, details))

	if !s.b.UsingExternalQuotaholder() {
		return nil
	}

	name, _ := details["path"].(string)
	serial, err := s.b.cfg.Quotaholder.IssueOneCommission(ctx, s.b.cfg.ServiceToken, account, commissionSource,
		map[string]int64{quotaholder.DiskspaceResource: size}, name)
	if err != nil {
		s.b.metrics.QuotaRejections.WithLabelValues("external").Inc()
		return &QuotaError{Resource: quotaholder.DiskspaceResource, Err: err}
	}

	s.b.metrics.Commissions.WithLabelValues("issued").Inc()
	s.serials = append(s.serials, serial)
	return nil
}

func (s *Session) reportObjectChange(user string, account string, path string, details map[string]any) {
	details["user"] = user
	s.messages = append(s.messages, queue.ObjectMessage(s.b.cfg.InstanceID, account, path, details))
}

func (s *Session) reportSharingChange(user string, account string, path string, details map[string]any) {
	details["user"] = user
	s.messages = append(s.messages, queue.SharingMessage(s.b.cfg.InstanceID, account, path, details))
}
