package queue_test

import (
	"bytes"
	"errors"
	"log/slog"
	"pithos/internal/queue"
	pqueue "pithos/pkg/queue"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	publisher := queue.NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	msg := pqueue.DiskspaceMessage("pithos-1", "alice", 500, map[string]any{"total": int64(500)})
	require.NoError(t, publisher.Send(t.Context(), msg))

	out := buf.String()
	require.Contains(t, out, "routing_key=pithos.resource.diskspace")
	require.Contains(t, out, "account=alice")
	require.Contains(t, out, "payload=500")
}

func TestMemoryPublisher(t *testing.T) {
	t.Parallel()

	publisher := queue.NewMemoryPublisher()
	require.NoError(t, publisher.Send(t.Context(), pqueue.ObjectMessage("i", "alice", "alice/c/o", nil)))
	require.NoError(t, publisher.Send(t.Context(), pqueue.SharingMessage("i", "alice", "alice/c/o", nil)))

	messages := publisher.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "pithos.object", messages[0].RoutingKey)
	require.Equal(t, pqueue.EventSharing, messages[1].EventType)

	boom := errors.New("broker down")
	publisher.FailWith(boom)
	require.ErrorIs(t, publisher.Send(t.Context(), pqueue.ObjectMessage("i", "alice", "x", nil)), boom)
	require.Len(t, publisher.Messages(), 2)

	publisher.Reset()
	require.Empty(t, publisher.Messages())
}
