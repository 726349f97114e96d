// Package ledger implements the Execution Ledger: the per-node-id status
// record consumed by the operator UI (spec.md §2 component 4, §3
// invariant: "<absent> → started → {completed|failed}").
package ledger

import (
	"context"
	"fmt"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/metrics"
)

const (
	StateStarted   = "started"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Ledger wraps the bus's flow_execution:<node_id> keys.
type Ledger struct {
	bus *bus.Bus
}

// New returns a Ledger backed by b.
func New(b *bus.Bus) *Ledger {
	return &Ledger{bus: b}
}

func key(nodeID string) string {
	return fmt.Sprintf("flow_execution:%s", nodeID)
}

// Start marks nodeID started. Called before the command envelope is
// written to the socket (spec.md §4.3 Dispatching state, §8 invariant 1).
// A no-op if nodeID is empty — not every envelope carries one.
func (l *Ledger) Start(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return nil
	}
	if err := l.bus.SetString(ctx, key(nodeID), StateStarted, 0); err != nil {
		return fmt.Errorf("ledger: start %s: %w", nodeID, err)
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(StateStarted).Inc()
	return nil
}

// Complete marks nodeID completed.
func (l *Ledger) Complete(ctx context.Context, nodeID string) error {
	return l.set(ctx, nodeID, StateCompleted)
}

// Fail marks nodeID failed.
func (l *Ledger) Fail(ctx context.Context, nodeID string) error {
	return l.set(ctx, nodeID, StateFailed)
}

func (l *Ledger) set(ctx context.Context, nodeID, state string) error {
	if nodeID == "" {
		return nil
	}
	if err := l.bus.SetString(ctx, key(nodeID), state, 0); err != nil {
		return fmt.Errorf("ledger: set %s=%s: %w", nodeID, state, err)
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(state).Inc()
	return nil
}

// State returns the current state for nodeID, or bus.ErrNotFound if the
// node has never been dispatched.
func (l *Ledger) State(ctx context.Context, nodeID string) (string, error) {
	return l.bus.GetString(ctx, key(nodeID))
}
