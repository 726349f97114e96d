// Package session implements the per-connection Session Handler (spec.md
// §2 component 5): the registration handshake followed by the logical or
// physical protocol loop.
//
// The read-pump/write-on-demand split and "register under the lock, defer
// unregister" shape are adapted from the teacher's websocket.deviceConn,
// generalized from a WebSocket connection to a raw net.Conn since the wire
// here is bare TCP, not the WebSocket protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/ledger"
	"github.com/fernhollow/roomctl/internal/logging"
	"github.com/fernhollow/roomctl/internal/metrics"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/fernhollow/roomctl/internal/queue"
	"github.com/fernhollow/roomctl/internal/registry"
	"github.com/fernhollow/roomctl/internal/serverstatus"
)

// Deps bundles everything a Handler needs, so tests can substitute a
// miniredis-backed bus without touching a real TCP socket.
type Deps struct {
	Bus      *bus.Bus
	Registry *registry.Registry
	Queue    *queue.Queue
	Ledger   *ledger.Ledger
	Timeouts config.TimeoutConfig
}

// Handler runs the registration handshake and protocol loop for one
// accepted connection. A Handler is stateless between connections; all
// per-connection state lives on the stack of Handle and its callees.
type Handler struct {
	deps Deps
}

// New returns a Handler backed by deps.
func New(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Handle runs to completion for one connection: handshake, then the
// logical or physical loop, then teardown. It always closes conn before
// returning.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	t := h.deps.Timeouts
	configureKeepalive(conn, t.KeepaliveIdle(), t.KeepaliveInterval(), t.KeepaliveCount)

	fc := newFramedConn(conn, t.HandshakeBufferBytes)

	var hs protocol.Handshake
	if err := fc.readJSON(&hs); err != nil {
		logging.WithFields("session", "session.handshake_failed", map[string]any{
			"remote_addr": conn.RemoteAddr().String(),
			"error":       err.Error(),
		}).Warn("handshake failed")
		return
	}
	hs.Normalize()

	ip := remoteIP(conn)

	if hs.Type == protocol.KindPhysical {
		h.runPhysical(ctx, fc, ip)
		return
	}
	h.runLogical(ctx, fc, ip, hs)
}

// subDeviceIDs builds the device id(s) for a handshake, expanding a
// multi-node registration into N sub-device ids (spec.md §3, §4.2).
func subDeviceIDs(baseID string, numNodes int) []string {
	if numNodes <= 1 {
		return []string{baseID}
	}
	ids := make([]string, numNodes)
	for i := 0; i < numNodes; i++ {
		ids[i] = fmt.Sprintf("%s_%d", baseID, i+1)
	}
	return ids
}

func (h *Handler) runLogical(ctx context.Context, fc *framedConn, ip string, hs protocol.Handshake) {
	baseID := fmt.Sprintf("%s:%s", ip, hs.DeviceName)
	numNodes := hs.NumNodes
	subIDs := subDeviceIDs(baseID, numNodes)

	records := make([]registry.Record, len(subIDs))
	for i, id := range subIDs {
		name := hs.DeviceName
		if numNodes > 1 {
			name = fmt.Sprintf("%s_%d", hs.DeviceName, i+1)
		}
		records[i] = registry.Record{
			DeviceID:   id,
			Kind:       string(protocol.KindLogical),
			DeviceName: name,
			NumNodes:   numNodes,
			NumHints:   hs.NumHints,
			Status:     hs.Status,
			Config:     hs.Config,
		}
	}

	if err := h.deps.Registry.RegisterLogical(ctx, records...); err != nil {
		logging.WithFields("session", "session.register_failed", map[string]any{
			"device_id": baseID, "error": err.Error(),
		}).Error("failed to register logical device")
		return
	}
	h.deps.Registry.BindSocket(baseID, fc)

	metrics.SessionsActive.WithLabelValues("logical").Inc()
	defer metrics.SessionsActive.WithLabelValues("logical").Dec()

	logging.WithFields("session", "session.logical_connected", map[string]any{
		"device_id": baseID, "num_nodes": numNodes,
	}).Info("logical device connected")

	counter := 0
	cause := "eof"

loop:
	for {
		if ctx.Err() != nil {
			cause = "shutdown"
			break loop
		}
		if !serverstatus.IsRunning(ctx, h.deps.Bus) {
			cause = "server_stopped"
			break loop
		}

		disconnected, err := h.consumeDisconnectFlag(ctx, baseID)
		if err != nil {
			logging.WithFields("session", "session.disconnect_check_failed", map[string]any{
				"device_id": baseID, "error": err.Error(),
			}).Warn("disconnect flag check failed")
		}
		if disconnected {
			cause = "disconnect"
			break loop
		}

		slot := counter % numNodes
		counter++
		subID := subIDs[slot]

		env, err := h.deps.Queue.Pop(ctx, subID)
		if errors.Is(err, bus.ErrNotFound) {
			if err := h.idleWait(fc, h.deps.Timeouts.IdlePoll()); err != nil {
				cause = "io_error"
				break loop
			}
			continue
		}
		if err != nil {
			logging.WithFields("session", "session.queue_error", map[string]any{
				"device_id": subID, "error": err.Error(),
			}).Warn("transient queue read error")
			if err := h.idleWait(fc, h.deps.Timeouts.IdlePoll()); err != nil {
				cause = "io_error"
				break loop
			}
			continue
		}

		idx := slot
		env.Index = &idx

		if err := h.deps.Ledger.Start(ctx, env.NodeID); err != nil {
			logging.WithFields("session", "session.ledger_error", map[string]any{
				"node_id": env.NodeID, "error": err.Error(),
			}).Warn("failed to mark node started")
		}

		if err := fc.writeJSON(env); err != nil {
			h.failNode(ctx, env.NodeID)
			cause = "io_error"
			break loop
		}
		metrics.CommandsDispatchedTotal.WithLabelValues("logical").Inc()

		var ack protocol.Ack
		if err := fc.readJSON(&ack); err != nil {
			h.failNode(ctx, env.NodeID)
			cause = "io_error"
			break loop
		}

		nodeID := ack.NodeID
		if nodeID == "" {
			nodeID = env.NodeID
		}
		if ack.Succeeded() {
			h.completeNode(ctx, nodeID)
		} else {
			h.failNode(ctx, nodeID)
		}
		metrics.AcksTotal.WithLabelValues("logical", ack.Status).Inc()
	}

	metrics.SessionTeardownsTotal.WithLabelValues(cause).Inc()
	h.teardownLogical(ctx, baseID, subIDs)
}

// idleWait blocks for up to interval waiting for unsolicited data on fc,
// so a closed or dead connection is discovered promptly instead of only on
// the next dispatched command. A read timeout is the expected outcome and
// is not an error; anything else (EOF, reset, decode failure) is treated as
// the connection being gone. Grounded on the teacher's deviceConn read-pump
// ping/dead-connection detection, adapted from a ping ticker to a
// deadline-bounded read since this wire has no ping frame.
func (h *Handler) idleWait(fc *framedConn, interval time.Duration) error {
	fc.setReadDeadline(interval)
	var discard any
	err := fc.readJSON(&discard)
	fc.setReadDeadline(0)
	if err == nil || isTimeout(err) {
		return nil
	}
	return err
}

// consumeDisconnectFlag checks and, if set, deletes the <id>:disconnect
// flag (spec.md §4.3 Idle state, §6).
func (h *Handler) consumeDisconnectFlag(ctx context.Context, deviceID string) (bool, error) {
	key := deviceID + ":disconnect"
	v, err := h.deps.Bus.GetString(ctx, key)
	if errors.Is(err, bus.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if v != "true" {
		return false, nil
	}
	return true, h.deps.Bus.Del(ctx, key)
}

func (h *Handler) completeNode(ctx context.Context, nodeID string) {
	if err := h.deps.Ledger.Complete(ctx, nodeID); err != nil {
		logging.WithFields("session", "session.ledger_error", map[string]any{
			"node_id": nodeID, "error": err.Error(),
		}).Warn("failed to mark node completed")
	}
}

func (h *Handler) failNode(ctx context.Context, nodeID string) {
	if err := h.deps.Ledger.Fail(ctx, nodeID); err != nil {
		logging.WithFields("session", "session.ledger_error", map[string]any{
			"node_id": nodeID, "error": err.Error(),
		}).Warn("failed to mark node failed")
	}
}

// teardownLogical implements the Terminating state (spec.md §4.3): fail
// every still-queued node id, clear per-device bus keys, then drop the
// registry entries and socket binding — in that order (spec.md §4.6
// "Removal order on cleanup").
func (h *Handler) teardownLogical(ctx context.Context, baseID string, subIDs []string) {
	ctx = context.WithoutCancel(ctx)

	for _, subID := range subIDs {
		pending, err := h.deps.Queue.Pending(ctx, subID)
		if err != nil {
			logging.WithFields("session", "session.teardown_scan_failed", map[string]any{
				"device_id": subID, "error": err.Error(),
			}).Warn("failed to scan pending commands during teardown")
		}
		for _, env := range pending {
			if env.NodeID != "" {
				h.failNode(ctx, env.NodeID)
			}
		}
		if err := h.deps.Queue.Clear(ctx, subID); err != nil {
			logging.WithFields("session", "session.teardown_clear_failed", map[string]any{
				"device_id": subID, "error": err.Error(),
			}).Warn("failed to clear device keys during teardown")
		}
	}

	if err := h.deps.Registry.UnregisterLogical(ctx, subIDs...); err != nil {
		logging.WithFields("session", "session.teardown_unregister_failed", map[string]any{
			"device_id": baseID, "error": err.Error(),
		}).Warn("failed to remove registry entries during teardown")
	}
	h.deps.Registry.UnbindSocket(baseID)

	logging.WithFields("session", "session.logical_disconnected", map[string]any{
		"device_id": baseID,
	}).Info("logical device disconnected")
}

func (h *Handler) runPhysical(ctx context.Context, fc *framedConn, ip string) {
	deviceID := ip
	rec := registry.Record{DeviceID: deviceID, Kind: string(protocol.KindPhysical)}
	if err := h.deps.Registry.RegisterPhysical(ctx, rec); err != nil {
		logging.WithFields("session", "session.register_failed", map[string]any{
			"device_id": deviceID, "error": err.Error(),
		}).Error("failed to register physical device")
		return
	}
	h.deps.Registry.BindSocket(deviceID, fc)

	metrics.SessionsActive.WithLabelValues("physical").Inc()
	defer metrics.SessionsActive.WithLabelValues("physical").Dec()

	logging.WithFields("session", "session.physical_connected", map[string]any{
		"device_id": deviceID,
	}).Info("physical device connected")

	cmdKey := deviceID + ":physical_command"
	respKey := deviceID + ":physical_response"

	cause := "eof"

loop:
	for {
		if ctx.Err() != nil {
			cause = "shutdown"
			break loop
		}
		if !serverstatus.IsRunning(ctx, h.deps.Bus) {
			cause = "server_stopped"
			break loop
		}

		var cmd protocol.PhysicalCommand
		err := h.deps.Bus.GetJSON(ctx, cmdKey, &cmd)
		if errors.Is(err, bus.ErrNotFound) {
			if err := h.idleWait(fc, h.deps.Timeouts.IdlePoll()); err != nil {
				cause = "io_error"
				break loop
			}
			continue
		}
		if err != nil {
			logging.WithFields("session", "session.bridge_read_error", map[string]any{
				"device_id": deviceID, "error": err.Error(),
			}).Warn("transient error reading direct-command slot")
			if err := h.idleWait(fc, h.deps.Timeouts.IdlePoll()); err != nil {
				cause = "io_error"
				break loop
			}
			continue
		}

		// Delete before processing: at-most-once dispatch (spec.md §4.4).
		if err := h.deps.Bus.Del(ctx, cmdKey); err != nil {
			logging.WithFields("session", "session.bridge_del_failed", map[string]any{
				"device_id": deviceID, "error": err.Error(),
			}).Warn("failed to clear direct-command slot")
		}

		if err := fc.writeJSON(cmd); err != nil {
			h.setPhysicalResponse(ctx, respKey, protocol.FailedResponse(err.Error()))
			cause = "io_error"
			break loop
		}
		metrics.CommandsDispatchedTotal.WithLabelValues("physical").Inc()

		fc.setReadDeadline(h.deps.Timeouts.PhysicalReadTimeout())
		var resp protocol.PhysicalResponse
		readErr := fc.readJSON(&resp)
		fc.setReadDeadline(0)

		switch {
		case readErr == nil:
			h.setPhysicalResponse(ctx, respKey, resp)
			metrics.AcksTotal.WithLabelValues("physical", resp.Status).Inc()
		case isTimeout(readErr):
			h.setPhysicalResponse(ctx, respKey, protocol.FailedResponse("device did not respond in time"))
			// Non-fatal: spec.md §4.7 "Physical command timeout -> session continues."
		default:
			h.setPhysicalResponse(ctx, respKey, protocol.FailedResponse(readErr.Error()))
			cause = "io_error"
			break loop
		}
	}

	metrics.SessionTeardownsTotal.WithLabelValues(cause).Inc()
	h.teardownPhysical(ctx, deviceID)
}

func (h *Handler) setPhysicalResponse(ctx context.Context, respKey string, resp protocol.PhysicalResponse) {
	if err := h.deps.Bus.SetJSON(ctx, respKey, resp, h.deps.Timeouts.PhysicalResponseTTL()); err != nil {
		logging.WithFields("session", "session.bridge_write_failed", map[string]any{
			"response_key": respKey, "error": err.Error(),
		}).Warn("failed to write direct-command response")
	}
}

func (h *Handler) teardownPhysical(ctx context.Context, deviceID string) {
	ctx = context.WithoutCancel(ctx)
	if err := h.deps.Registry.UnregisterPhysical(ctx, deviceID); err != nil {
		logging.WithFields("session", "session.teardown_unregister_failed", map[string]any{
			"device_id": deviceID, "error": err.Error(),
		}).Warn("failed to remove physical registry entry during teardown")
	}
	h.deps.Registry.UnbindSocket(deviceID)

	logging.WithFields("session", "session.physical_disconnected", map[string]any{
		"device_id": deviceID,
	}).Info("physical device disconnected")
}
