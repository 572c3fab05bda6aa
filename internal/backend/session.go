package backend

import (
	"context"
	"fmt"
	"log/slog"

	"pithos/pkg/metadata"
	"pithos/pkg/queue"
)

type sessionOptions struct {
	lockContainer bool
}

type SessionOption func(*sessionOptions)

// WithContainerLock makes container lookups in the session take a write
// lock held until the session ends.
func WithContainerLock() SessionOption {
	return func(o *sessionOptions) {
		o.lockContainer = true
	}
}

// Session is one metadata transaction together with the events and
// commission serials it accumulates. A Session is not safe for concurrent
// use.
type Session struct {
	b     *Backend
	tx    metadata.Tx
	nodes metadata.NodeStore
	perms metadata.PermissionStore

	lockContainer bool

	messages []queue.Message
	serials  []int64
	finished bool
}

// Begin starts a session.
func (b *Backend) Begin(ctx context.Context, opts ...SessionOption) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	tx, err := b.cfg.Metadata.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &Session{
		b:             b,
		tx:            tx,
		nodes:         tx.Nodes(),
		perms:         tx.Permissions(),
		lockContainer: o.lockContainer,
	}, nil
}

// End finishes the session. On success the buffered messages are
// published, issued serials are recorded in the local table together with
// the commit, and then accepted by the quotaholder. On failure the serials
// are rejected and the transaction is rolled back.
func (s *Session) End(ctx context.Context, success bool) error {
	if s.finished {
		return ErrSessionFinished
	}
	s.finished = true
	s.b.metrics.SessionEnded(success)

	if !success {
		s.rejectSerials(ctx)
		if err := s.tx.Rollback(); err != nil {
			return fmt.Errorf("error rolling back transaction: %w", err)
		}
		return nil
	}

	for _, msg := range s.messages {
		err := s.b.cfg.Publisher.Send(ctx, msg)
		s.b.metrics.MessageSent(msg.EventType, err)
		if err != nil {
			slog.Error("Error publishing message", "routing_key", msg.RoutingKey, "err", err)
		}
	}

	if len(s.serials) > 0 {
		if err := s.tx.Serials().Insert(ctx, s.serials); err != nil {
			_ = s.tx.Rollback()
			s.rejectSerials(ctx)
			return err
		}
	}

	if err := s.tx.Commit(); err != nil {
		s.rejectSerials(ctx)
		return fmt.Errorf("error committing transaction: %w", err)
	}

	if len(s.serials) > 0 {
		s.acceptSerials(ctx)
	}
	return nil
}

// acceptSerials resolves the issued serials after the commit. A failure
// leaves them in the local table for Reconcile. Once the quotaholder has
// answered, serials it did not accept are unknown to it or already settled
// and are dropped as well.
func (s *Session) acceptSerials(ctx context.Context) {
	err := metadata.WithTransaction(ctx, s.b.cfg.Metadata, func(tx metadata.Tx) error {
		resolution, err := s.b.cfg.Quotaholder.ResolveCommissions(ctx, s.b.cfg.ServiceToken, s.serials, nil)
		if err != nil {
			return err
		}
		s.b.metrics.CommissionsResolved(len(resolution.Accepted), len(resolution.Rejected))
		if len(resolution.Accepted) < len(s.serials) {
			slog.Warn("Commissions already settled", "serials", s.serials, "accepted", resolution.Accepted)
		}
		return tx.Serials().Delete(ctx, s.serials)
	})
	if err != nil {
		s.b.metrics.Commissions.WithLabelValues("failed").Add(float64(len(s.serials)))
		slog.Error("Resolve commissions", "serials", s.serials, "err", err)
	}
}

func (s *Session) rejectSerials(ctx context.Context) {
	if len(s.serials) == 0 || s.b.cfg.Quotaholder == nil {
		return
	}

	resolution, err := s.b.cfg.Quotaholder.ResolveCommissions(ctx, s.b.cfg.ServiceToken, nil, s.serials)
	if err != nil {
		s.b.metrics.Commissions.WithLabelValues("failed").Add(float64(len(s.serials)))
		slog.Error("Reject commissions", "serials", s.serials, "err", err)
		return
	}
	s.b.metrics.CommissionsResolved(len(resolution.Accepted), len(resolution.Rejected))
}

// Messages returns the events buffered so far.
func (s *Session) Messages() []queue.Message {
	return s.messages
}

// Serials returns the commission serials issued so far.
func (s *Session) Serials() []int64 {
	return s.serials
}
