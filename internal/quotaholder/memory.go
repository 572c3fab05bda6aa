package quotaholder

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"pithos/pkg/quotaholder"
)

type commission struct {
	holder string
	delta  int64
}

type holderState struct {
	limit int64
	usage int64
}

// Memory is an in-process quotaholder for the diskspace resource. Pending
// positive commissions count against the limit until they are resolved.
// A zero limit means unlimited. Tokens are not checked.
type Memory struct {
	mu      sync.Mutex
	holders map[string]*holderState
	pending map[int64]commission
	serial  int64
}

var _ quotaholder.Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		holders: make(map[string]*holderState),
		pending: make(map[int64]commission),
	}
}

func (m *Memory) holder(name string) *holderState {
	h, ok := m.holders[name]
	if !ok {
		h = &holderState{}
		m.holders[name] = h
	}
	return h
}

// reserved sums the pending growth of holder.
func (m *Memory) reserved(holder string) int64 {
	var total int64
	for _, c := range m.pending {
		if c.holder == holder && c.delta > 0 {
			total += c.delta
		}
	}
	return total
}

func (m *Memory) IssueOneCommission(_ context.Context, _ string, holder string, _ string, provisions map[string]int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := provisions[quotaholder.DiskspaceResource]
	h := m.holder(holder)
	if delta > 0 && h.limit > 0 && h.usage+m.reserved(holder)+delta > h.limit {
		return 0, fmt.Errorf("%w: %s needs %d, usage %d of %d", quotaholder.ErrQuotaExceeded, name, delta, h.usage, h.limit)
	}

	m.serial++
	m.pending[m.serial] = commission{holder: holder, delta: delta}
	return m.serial, nil
}

func (m *Memory) ResolveCommissions(_ context.Context, _ string, accept []int64, reject []int64) (quotaholder.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var resolution quotaholder.Resolution
	for _, serial := range accept {
		c, ok := m.pending[serial]
		if !ok {
			continue
		}
		m.holder(c.holder).usage += c.delta
		delete(m.pending, serial)
		resolution.Accepted = append(resolution.Accepted, serial)
	}
	for _, serial := range reject {
		if _, ok := m.pending[serial]; !ok {
			continue
		}
		delete(m.pending, serial)
		resolution.Rejected = append(resolution.Rejected, serial)
	}
	return resolution, nil
}

func (m *Memory) GetPendingCommissions(_ context.Context, _ string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	serials := make([]int64, 0, len(m.pending))
	for serial := range m.pending {
		serials = append(serials, serial)
	}
	slices.Sort(serials)
	return serials, nil
}

func (m *Memory) GetQuota(_ context.Context, _ string, holder string) (quotaholder.Quota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.holder(holder)
	return quotaholder.Quota{Limit: h.limit, Usage: h.usage}, nil
}

func (m *Memory) SetQuota(_ context.Context, _ string, holder string, limit int64) error {
	if limit < 0 {
		return fmt.Errorf("invalid quota limit %d", limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.holder(holder).limit = limit
	return nil
}
