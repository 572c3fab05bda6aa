package queue

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"pithos/pkg/queue"
)

// LogPublisher writes every message to a logger.
type LogPublisher struct {
	logger *slog.Logger
}

var _ queue.Publisher = (*LogPublisher)(nil)

// NewLogPublisher logs through logger, or the default logger when nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Send(ctx context.Context, msg queue.Message) error {
	p.logger.InfoContext(ctx, "Event",
		"routing_key", msg.RoutingKey,
		"account", msg.Account,
		"instance_id", msg.InstanceID,
		"event_type", msg.EventType,
		"payload", msg.Payload,
		slog.Any("details", msg.Details),
	)
	return nil
}

// MemoryPublisher records messages in order.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

var _ queue.Publisher = (*MemoryPublisher)(nil)

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes every later Send return err without recording.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryPublisher) Send(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (p *MemoryPublisher) Messages() []queue.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.messages)
}

// Reset forgets the recorded messages.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
