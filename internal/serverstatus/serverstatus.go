// Package serverstatus watches the tcp_server:status bus key that gates
// the Acceptor and every session's Idle-state poll (spec.md §4.1, §9
// design note: "Global server status flag... a watched bus key with a
// cached local view refreshed on each Idle tick").
package serverstatus

import (
	"context"

	"github.com/fernhollow/roomctl/internal/bus"
)

const (
	Key     = "tcp_server:status"
	Running = "running"
	Stopped = "stopped"
)

// IsRunning reports whether the bus currently says the server should be
// accepting/serving connections. Absence of the key is treated as running,
// so a fresh deployment with no operator-set flag behaves normally.
func IsRunning(ctx context.Context, b *bus.Bus) bool {
	v, err := b.GetString(ctx, Key)
	if err != nil {
		return true
	}
	return v != Stopped
}
