package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestSetGetString(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	_, err := b.GetString(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.SetString(ctx, "k", "v", 0))
	v, err := b.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestJSONRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	type payload struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	in := payload{A: 1, B: "x"}
	require.NoError(t, b.SetJSON(ctx, "obj", in, 0))

	var out payload
	require.NoError(t, b.GetJSON(ctx, "obj", &out))
	assert.Equal(t, in, out)
}

func TestDelAndExists(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.SetString(ctx, "k", "v", 0))
	ok, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Del(ctx, "k"))
	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	ok, err := b.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must not overwrite")
}

func TestLPushLPopIsLIFO(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.LPush(ctx, "q", "first"))
	require.NoError(t, b.LPush(ctx, "q", "second"))

	// Both producer and consumer operate on the left side (spec.md §9 Open
	// Question 1, resolved as LIFO in SPEC_FULL.md §7.1): the most
	// recently pushed element pops first.
	v, err := b.LPop(ctx, "q")
	require.NoError(t, err)
	assert.JSONEq(t, `"second"`, v)

	v, err = b.LPop(ctx, "q")
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, v)

	_, err = b.LPop(ctx, "q")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyPrefixIsolatesNamespaces(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New("redis://"+mr.Addr(), "a:")
	require.NoError(t, err)
	defer a.Close()
	b, err := New("redis://"+mr.Addr(), "b:")
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.SetString(ctx, "k", "from-a", 0))
	_, err = b.GetString(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
