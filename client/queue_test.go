package client

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func queuedSend(i int) QueuedSend {
	return QueuedSend{
		ClientMessageID:    fmt.Sprintf("id-%d", i),
		RecipientContactID: "bob",
		Content:            fmt.Sprintf("msg %d", i),
		Type:               "text",
		QueuedAt:           time.Now().Add(time.Duration(i) * time.Millisecond),
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewSendQueue("")
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Enqueue(queuedSend(i))
	}
	require.Equal(t, 3, q.Len())

	items, ok := q.BeginDrain()
	require.True(t, ok)
	require.Len(t, items, 3)
	for i, item := range items {
		require.Equal(t, fmt.Sprintf("id-%d", i), item.ClientMessageID)
	}
	q.EndDrain()
}

func TestQueueSingleDrainer(t *testing.T) {
	q := NewSendQueue("")
	defer q.Close()
	q.Enqueue(queuedSend(0))

	_, ok := q.BeginDrain()
	require.True(t, ok)

	_, ok = q.BeginDrain()
	require.False(t, ok)

	q.EndDrain()
	_, ok = q.BeginDrain()
	require.True(t, ok)
	q.EndDrain()
}

func TestQueueRemove(t *testing.T) {
	q := NewSendQueue("")
	defer q.Close()

	q.Enqueue(queuedSend(0))
	q.Enqueue(queuedSend(1))

	q.Remove("id-0")
	require.Equal(t, 1, q.Len())

	items, _ := q.BeginDrain()
	q.EndDrain()
	require.Equal(t, "id-1", items[0].ClientMessageID)

	// Removing an unknown id is a no-op.
	q.Remove("id-404")
	require.Equal(t, 1, q.Len())
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	q := NewSendQueue(dir)
	for i := 0; i < 3; i++ {
		q.Enqueue(queuedSend(i))
	}
	q.Remove("id-1")
	require.NoError(t, q.Close())

	reopened := NewSendQueue(dir)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	items, _ := reopened.BeginDrain()
	reopened.EndDrain()
	require.Equal(t, "id-0", items[0].ClientMessageID)
	require.Equal(t, "id-2", items[1].ClientMessageID)
}

func TestQueueFallsBackToMemory(t *testing.T) {
	// A path that cannot be created leaves the queue functional in memory.
	q := NewSendQueue("/dev/null/not-a-dir")
	defer q.Close()

	q.Enqueue(queuedSend(0))
	require.Equal(t, 1, q.Len())
}
