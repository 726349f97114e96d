// Package bridge implements the Direct-Command Channel (spec.md §2
// component 7, §4.5): a single-slot request/response pair on the bus that
// lets a synchronous HTTP caller drive a physical device's session loop.
//
// The poll-with-ticker/TTL'd-slot/best-effort-cleanup shape is grounded on
// the teacher's worker.OutboxProcessor and worker.RedisLock: both poll a
// shared store on an interval and treat cleanup failures as non-fatal.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/logging"
	"github.com/fernhollow/roomctl/internal/metrics"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/fernhollow/roomctl/internal/registry"
)

// ErrNotConnected is returned when the target device is not in the
// physical registry (spec.md §4.5 step 1).
var ErrNotConnected = errors.New("bridge: device not connected")

// ErrTimeout is returned when no response arrives within the caller's timeout.
var ErrTimeout = errors.New("bridge: timed out waiting for response")

// Bridge is the synchronous caller-facing half of the Direct-Command
// Channel. internal/session implements the other half (poll the command
// slot, forward to the socket, write the response slot).
type Bridge struct {
	bus      *bus.Bus
	registry *registry.Registry
	poll     time.Duration
}

// New returns a Bridge polling the response slot every poll interval.
func New(b *bus.Bus, reg *registry.Registry, poll time.Duration) *Bridge {
	return &Bridge{bus: b, registry: reg, poll: poll}
}

func commandKey(deviceID string) string  { return fmt.Sprintf("%s:physical_command", deviceID) }
func responseKey(deviceID string) string { return fmt.Sprintf("%s:physical_response", deviceID) }

// Send performs the full synchronous exchange described in spec.md §4.5:
// verify connectivity, clear any stale response, set the command slot,
// poll for a response up to timeout, and clean up either way.
func (b *Bridge) Send(ctx context.Context, deviceID string, cmd protocol.PhysicalCommand, timeout time.Duration) (protocol.PhysicalResponse, error) {
	start := time.Now()
	resp, err := b.send(ctx, deviceID, cmd, timeout)
	metrics.PhysicalCommandDuration.Observe(time.Since(start).Seconds())
	outcome := "success"
	switch {
	case errors.Is(err, ErrNotConnected):
		outcome = "not_connected"
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case resp.Status != protocol.StatusSuccess:
		outcome = "device_failed"
	}
	metrics.PhysicalCommandsTotal.WithLabelValues(outcome).Inc()
	return resp, err
}

func (b *Bridge) send(ctx context.Context, deviceID string, cmd protocol.PhysicalCommand, timeout time.Duration) (protocol.PhysicalResponse, error) {
	if !b.registry.IsPhysicalConnected(deviceID) {
		return protocol.PhysicalResponse{}, ErrNotConnected
	}

	respKey := responseKey(deviceID)
	if err := b.bus.Del(ctx, respKey); err != nil {
		return protocol.PhysicalResponse{}, fmt.Errorf("bridge: clear stale response for %s: %w", deviceID, err)
	}

	if err := b.bus.SetJSON(ctx, commandKey(deviceID), cmd, 0); err != nil {
		return protocol.PhysicalResponse{}, fmt.Errorf("bridge: set command for %s: %w", deviceID, err)
	}

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			b.cleanupCommand(ctx, deviceID)
			return protocol.PhysicalResponse{}, ctx.Err()

		case <-deadline:
			b.cleanupCommand(ctx, deviceID)
			logging.WithFields("bridge", "bridge.timeout", map[string]any{
				"device_id": deviceID,
			}).Warn("direct command timed out")
			return protocol.PhysicalResponse{}, ErrTimeout

		case <-ticker.C:
			var resp protocol.PhysicalResponse
			err := b.bus.GetJSON(ctx, respKey, &resp)
			if errors.Is(err, bus.ErrNotFound) {
				continue
			}
			if err != nil {
				return protocol.PhysicalResponse{}, fmt.Errorf("bridge: read response for %s: %w", deviceID, err)
			}
			if delErr := b.bus.Del(ctx, respKey); delErr != nil {
				logging.WithFields("bridge", "bridge.cleanup_failed", map[string]any{
					"device_id": deviceID, "error": delErr.Error(),
				}).Warn("failed to clear response slot")
			}
			return resp, nil
		}
	}
}

// cleanupCommand best-effort deletes the command slot on timeout/cancel
// (spec.md §4.5 step 5).
func (b *Bridge) cleanupCommand(ctx context.Context, deviceID string) {
	if err := b.bus.Del(context.WithoutCancel(ctx), commandKey(deviceID)); err != nil {
		logging.WithFields("bridge", "bridge.cleanup_failed", map[string]any{
			"device_id": deviceID, "error": err.Error(),
		}).Warn("failed to clear command slot after timeout")
	}
}
