package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureHub struct {
	types    []string
	payloads []interface{}
}

func (h *captureHub) Broadcast(msgType string, payload interface{}) {
	h.types = append(h.types, msgType)
	h.payloads = append(h.payloads, payload)
}

func TestBroadcasterParsesEntries(t *testing.T) {
	hub := &captureHub{}
	b := NewLogBroadcaster(hub, 10)

	line := `{"level":"info","component":"queue","requestId":"abc","time":"2026-01-02T15:04:05Z","message":"item queued"}`
	n, err := b.Write([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	require.Len(t, hub.payloads, 1)
	assert.Equal(t, "logs:entry", hub.types[0])

	entry, ok := hub.payloads[0].(LogEntry)
	require.True(t, ok)
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "queue", entry.Component)
	assert.Equal(t, "item queued", entry.Message)
	assert.Equal(t, "2026-01-02T15:04:05Z", entry.Timestamp)
	assert.Equal(t, "abc", entry.Fields["requestId"])
}

func TestBroadcasterDropsMalformedLines(t *testing.T) {
	hub := &captureHub{}
	b := NewLogBroadcaster(hub, 10)

	n, err := b.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, len("not json"), n)
	assert.Empty(t, hub.payloads)
	assert.Empty(t, b.Recent())
}

func TestBroadcasterBuffersWithoutHub(t *testing.T) {
	b := NewLogBroadcaster(nil, 10)

	_, err := b.Write([]byte(`{"level":"warn","message":"first"}`))
	require.NoError(t, err)

	recent := b.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "first", recent[0].Message)

	hub := &captureHub{}
	b.SetHub(hub)

	_, err = b.Write([]byte(`{"level":"warn","message":"second"}`))
	require.NoError(t, err)
	require.Len(t, hub.payloads, 1)
}

func TestRecentOrderedOldestFirst(t *testing.T) {
	b := NewLogBroadcaster(nil, 3)

	for i := 0; i < 5; i++ {
		_, err := b.Write([]byte(fmt.Sprintf(`{"level":"info","message":"msg-%d"}`, i)))
		require.NoError(t, err)
	}

	recent := b.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "msg-2", recent[0].Message)
	assert.Equal(t, "msg-4", recent[2].Message)
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	assert.Empty(t, rb.All())
	assert.Zero(t, rb.Len())

	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, []int{1, 2}, rb.All())

	rb.Push(3)
	rb.Push(4)
	assert.Equal(t, []int{2, 3, 4}, rb.All())
	assert.Equal(t, 3, rb.Len())
}
