// Package queue implements the per-device Command Queue (spec.md §2
// component 3): an append-on-left/pop-on-left list of command envelopes.
//
// Queue direction is a documented, resolved Open Question (spec.md §9.1,
// SPEC_FULL.md §7.1): the original prototype's producers LPUSH and its
// consumer LPOPs, which is LIFO, not FIFO. This package preserves that
// behavior verbatim rather than silently "fixing" it to FIFO, so producers
// written against the original semantics keep working unchanged.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/protocol"
)

// Queue accesses the per-(sub-)device command queues; every method takes
// the device id whose queue it operates on.
type Queue struct {
	bus *bus.Bus
}

// New returns a Queue backed by b.
func New(b *bus.Bus) *Queue {
	return &Queue{bus: b}
}

func commandsKey(deviceID string) string {
	return fmt.Sprintf("%s:commands", deviceID)
}

// Push enqueues env for deviceID (producer side, e.g. an HTTP route).
func (q *Queue) Push(ctx context.Context, deviceID string, env protocol.Envelope) error {
	if err := q.bus.LPush(ctx, commandsKey(deviceID), env); err != nil {
		return fmt.Errorf("queue: push %s: %w", deviceID, err)
	}
	return nil
}

// Pop dequeues the next envelope for deviceID, or bus.ErrNotFound if empty.
func (q *Queue) Pop(ctx context.Context, deviceID string) (protocol.Envelope, error) {
	raw, err := q.bus.LPop(ctx, commandsKey(deviceID))
	if err != nil {
		return protocol.Envelope{}, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("queue: decode envelope for %s: %w", deviceID, err)
	}
	return env, nil
}

// Pending returns every envelope still queued for deviceID without
// removing them, used when a session tears down and must fail every
// pending node id (spec.md §4.3 Terminating state).
func (q *Queue) Pending(ctx context.Context, deviceID string) ([]protocol.Envelope, error) {
	raws, err := q.bus.LRange(ctx, commandsKey(deviceID))
	if err != nil {
		return nil, fmt.Errorf("queue: pending %s: %w", deviceID, err)
	}
	envs := make([]protocol.Envelope, 0, len(raws))
	for _, raw := range raws {
		var env protocol.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue // best-effort: a malformed entry can't be attributed to a node id
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Clear removes the device's commands/status/current_config keys (spec.md
// §4.3 Terminating state, §8 invariant 2). All three are deleted in one
// call so a concurrent reader never sees a partially-cleared device.
func (q *Queue) Clear(ctx context.Context, deviceID string) error {
	keys := []string{
		commandsKey(deviceID),
		fmt.Sprintf("%s:status", deviceID),
		fmt.Sprintf("%s:current_config", deviceID),
	}
	if err := q.bus.Del(ctx, keys...); err != nil {
		return fmt.Errorf("queue: clear %s: %w", deviceID, err)
	}
	return nil
}
