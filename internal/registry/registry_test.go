package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := bus.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return New(b)
}

func TestRegisterLogicalSingleNode(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	rec := Record{DeviceID: "10.0.0.1:lobby", Kind: "logical", DeviceName: "lobby", NumNodes: 1}
	require.NoError(t, reg.RegisterLogical(ctx, rec))

	got, ok := reg.LogicalRecord("10.0.0.1:lobby")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestMultiNodeRegistersAndUnregistersAsSet(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	records := []Record{
		{DeviceID: "10.0.0.2_1", Kind: "logical", DeviceName: "vault_1", NumNodes: 3},
		{DeviceID: "10.0.0.2_2", Kind: "logical", DeviceName: "vault_2", NumNodes: 3},
		{DeviceID: "10.0.0.2_3", Kind: "logical", DeviceName: "vault_3", NumNodes: 3},
	}
	require.NoError(t, reg.RegisterLogical(ctx, records...))

	for _, r := range records {
		_, ok := reg.LogicalRecord(r.DeviceID)
		assert.True(t, ok, "expected %s registered", r.DeviceID)
	}

	require.NoError(t, reg.UnregisterLogical(ctx, "10.0.0.2_1", "10.0.0.2_2", "10.0.0.2_3"))
	for _, r := range records {
		_, ok := reg.LogicalRecord(r.DeviceID)
		assert.False(t, ok, "expected %s unregistered", r.DeviceID)
	}
}

func TestPhysicalRegistryIsolatedFromLogical(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterPhysical(ctx, Record{DeviceID: "10.0.0.9", Kind: "physical"}))
	assert.True(t, reg.IsPhysicalConnected("10.0.0.9"))

	_, ok := reg.LogicalRecord("10.0.0.9")
	assert.False(t, ok, "physical registration must not appear in the logical mirror")

	require.NoError(t, reg.UnregisterPhysical(ctx, "10.0.0.9"))
	assert.False(t, reg.IsPhysicalConnected("10.0.0.9"))
}

func TestSocketBindUnbind(t *testing.T) {
	reg := newTestRegistry(t)

	reg.BindSocket("dev-1", "fake-handle")
	h, ok := reg.Socket("dev-1")
	require.True(t, ok)
	assert.Equal(t, "fake-handle", h)

	reg.UnbindSocket("dev-1")
	_, ok = reg.Socket("dev-1")
	assert.False(t, ok)
}

func TestResetClearsBothMirrors(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterLogical(ctx, Record{DeviceID: "a", Kind: "logical"}))
	require.NoError(t, reg.RegisterPhysical(ctx, Record{DeviceID: "b", Kind: "physical"}))

	require.NoError(t, reg.Reset(ctx))

	logical, physical := reg.Snapshot()
	assert.Empty(t, logical)
	assert.Empty(t, physical)
}
