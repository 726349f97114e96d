package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := bus.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return New(b)
}

func TestPushPopIsLIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "dev", protocol.Envelope{NodeID: "a"}))
	require.NoError(t, q.Push(ctx, "dev", protocol.Envelope{NodeID: "b"}))

	first, err := q.Pop(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "b", first.NodeID)

	second, err := q.Pop(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, "a", second.NodeID)

	_, err = q.Pop(ctx, "dev")
	assert.ErrorIs(t, err, bus.ErrNotFound)
}

func TestPendingDoesNotConsume(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "dev", protocol.Envelope{NodeID: "x"}))
	require.NoError(t, q.Push(ctx, "dev", protocol.Envelope{NodeID: "y"}))

	pending, err := q.Pending(ctx, "dev")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pendingAgain, err := q.Pending(ctx, "dev")
	require.NoError(t, err)
	assert.Len(t, pendingAgain, 2, "Pending must not remove entries")
}

func TestClearRemovesAllThreeKeys(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "dev", protocol.Envelope{NodeID: "x"}))
	require.NoError(t, q.bus.SetString(ctx, "dev:status", "ok", 0))
	require.NoError(t, q.bus.SetString(ctx, "dev:current_config", "{}", 0))

	require.NoError(t, q.Clear(ctx, "dev"))

	for _, key := range []string{"dev:commands", "dev:status", "dev:current_config"} {
		ok, err := q.bus.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "expected %s removed", key)
	}
}
