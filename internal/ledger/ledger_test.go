package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := bus.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return New(b)
}

func TestStartedThenCompleted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx, "n1"))
	state, err := l.State(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, state)

	require.NoError(t, l.Complete(ctx, "n1"))
	state, err = l.State(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestFailTerminal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx, "n2"))
	require.NoError(t, l.Fail(ctx, "n2"))
	state, err := l.State(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}

func TestEmptyNodeIDIsNoop(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx, ""))
	_, err := l.State(ctx, "")
	assert.ErrorIs(t, err, bus.ErrNotFound)
}

func TestUnknownNodeNotFound(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.State(context.Background(), "never-dispatched")
	assert.ErrorIs(t, err, bus.ErrNotFound)
}
