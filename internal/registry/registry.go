// Package registry is the Fleet Registry: the authoritative in-process
// mapping from device id to registration record, mirrored to the shared
// bus for readers (spec.md §2 component 2, §4.6).
//
// The map/mutex/bus-mirror-inside-the-critical-section shape is adapted
// from the teacher's websocket.Hub, which keeps the same invariant for its
// device-connection map.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/logging"
)

const (
	logicalMirrorKey  = "connected_devices"
	physicalMirrorKey = "connected_physical_devices"
)

// Record is a Device Registration Record (spec.md §3).
type Record struct {
	DeviceID   string          `json:"device_id"`
	Kind       string          `json:"kind"`
	DeviceName string          `json:"device_name,omitempty"`
	NumNodes   int             `json:"num_nodes,omitempty"`
	NumHints   int             `json:"num_hints,omitempty"`
	Status     string          `json:"status,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Registry holds the logical and physical device maps behind one mutex, so
// a caller can never observe one mirror mid-update relative to the other.
type Registry struct {
	mu        sync.RWMutex
	logical   map[string]Record
	physical  map[string]Record
	bus       *bus.Bus
	sockets   map[string]socketHandle
}

// socketHandle is the minimal surface the Direct-Command bridge needs from
// a live session's connection; internal/session supplies the concrete type.
type socketHandle interface{}

// New creates an empty Registry backed by b.
func New(b *bus.Bus) *Registry {
	return &Registry{
		logical:  make(map[string]Record),
		physical: make(map[string]Record),
		bus:      b,
		sockets:  make(map[string]socketHandle),
	}
}

// RegisterLogical adds one or more sub-device records (spec.md §3: a
// multi-node device expands into num_nodes virtual sub-devices sharing one
// socket) and republishes the logical mirror inside the same critical
// section that mutated the map.
func (r *Registry) RegisterLogical(ctx context.Context, records ...Record) error {
	r.mu.Lock()
	for _, rec := range records {
		r.logical[rec.DeviceID] = rec
	}
	err := r.publishLogicalLocked(ctx)
	r.mu.Unlock()

	for _, rec := range records {
		logging.WithFields("registry", "registry.logical_registered", map[string]any{
			"device_id": rec.DeviceID,
		}).Info("logical device registered")
	}
	return err
}

// RegisterPhysical adds a physical device record and republishes the
// physical mirror.
func (r *Registry) RegisterPhysical(ctx context.Context, rec Record) error {
	r.mu.Lock()
	r.physical[rec.DeviceID] = rec
	err := r.publishPhysicalLocked(ctx)
	r.mu.Unlock()

	logging.WithFields("registry", "registry.physical_registered", map[string]any{
		"device_id": rec.DeviceID,
	}).Info("physical device registered")
	return err
}

// UnregisterLogical removes the given sub-device ids as a set (spec.md §3:
// "Sub-devices of a multi-node registration share lifecycle") and
// republishes the mirror once.
func (r *Registry) UnregisterLogical(ctx context.Context, deviceIDs ...string) error {
	r.mu.Lock()
	for _, id := range deviceIDs {
		delete(r.logical, id)
	}
	err := r.publishLogicalLocked(ctx)
	r.mu.Unlock()
	return err
}

// UnregisterPhysical removes a physical device record and republishes the mirror.
func (r *Registry) UnregisterPhysical(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	delete(r.physical, deviceID)
	err := r.publishPhysicalLocked(ctx)
	r.mu.Unlock()
	return err
}

// LogicalRecord returns the registration for a logical (sub-)device id.
func (r *Registry) LogicalRecord(deviceID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.logical[deviceID]
	return rec, ok
}

// IsPhysicalConnected reports whether deviceID is in the physical registry
// (spec.md §4.5 step 1).
func (r *Registry) IsPhysicalConnected(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.physical[deviceID]
	return ok
}

// BindSocket records the live connection handle for deviceID so the
// Direct-Command bridge's bus-slot poll loop and any future in-process
// caller can reach it (spec.md §4.2: "store the socket handle in a
// per-process device_id → socket map").
func (r *Registry) BindSocket(deviceID string, handle socketHandle) {
	r.mu.Lock()
	r.sockets[deviceID] = handle
	r.mu.Unlock()
}

// UnbindSocket removes the live connection handle for deviceID.
func (r *Registry) UnbindSocket(deviceID string) {
	r.mu.Lock()
	delete(r.sockets, deviceID)
	r.mu.Unlock()
}

// Socket returns the bound connection handle for deviceID, if any.
func (r *Registry) Socket(deviceID string) (socketHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sockets[deviceID]
	return h, ok
}

// Snapshot returns copies of both mirrors, for the admin HTTP surface.
func (r *Registry) Snapshot() (logical, physical map[string]Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	logical = make(map[string]Record, len(r.logical))
	for k, v := range r.logical {
		logical[k] = v
	}
	physical = make(map[string]Record, len(r.physical))
	for k, v := range r.physical {
		physical[k] = v
	}
	return logical, physical
}

// Reset clears the registry and republishes empty mirrors, used at process
// startup to discard a stale mirror left by a prior process
// (SPEC_FULL.md §7.6).
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logical = make(map[string]Record)
	r.physical = make(map[string]Record)
	r.sockets = make(map[string]socketHandle)
	if err := r.publishLogicalLocked(ctx); err != nil {
		return err
	}
	return r.publishPhysicalLocked(ctx)
}

func (r *Registry) publishLogicalLocked(ctx context.Context) error {
	return r.bus.SetJSON(ctx, logicalMirrorKey, r.logical, 0)
}

func (r *Registry) publishPhysicalLocked(ctx context.Context) error {
	return r.bus.SetJSON(ctx, physicalMirrorKey, r.physical, 0)
}
