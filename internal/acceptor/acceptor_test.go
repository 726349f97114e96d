package acceptor

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/ledger"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/fernhollow/roomctl/internal/queue"
	"github.com/fernhollow/roomctl/internal/registry"
	"github.com/fernhollow/roomctl/internal/session"
	"github.com/stretchr/testify/require"
)

func newTestAcceptor(t *testing.T) (*Acceptor, *bus.Bus, *registry.Registry, int) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := bus.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	reg := registry.New(b)
	h := session.New(session.Deps{
		Bus:      b,
		Registry: reg,
		Queue:    queue.New(b),
		Ledger:   ledger.New(b),
		Timeouts: config.TimeoutConfig{
			IdlePollMillis:             10,
			PhysicalReadTimeoutSeconds: 1,
			PhysicalResponseTTLSeconds: 60,
			KeepaliveIdleSeconds:       60,
			KeepaliveIntervalSeconds:   10,
			KeepaliveCount:             3,
			HandshakeBufferBytes:       4096,
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	a := New(Config{Host: "127.0.0.1", Port: port, AcceptPoll: 50 * time.Millisecond}, b, h)
	return a, b, reg, port
}

func TestAcceptorAcceptsAndRegistersDevice(t *testing.T) {
	a, _, reg, port := newTestAcceptor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	hs, _ := json.Marshal(protocol.Handshake{Type: protocol.KindLogical, DeviceName: "acceptor-test"})
	_, err = conn.Write(hs)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		logical, _ := reg.Snapshot()
		for id := range logical {
			if id == "127.0.0.1:acceptor-test" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAcceptorStopClosesListener(t *testing.T) {
	a, _, _, port := newTestAcceptor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	a.Stop()

	_, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.Error(t, err, "listener must be closed after Stop")
}

func TestAcceptorStartTwiceIsNoop(t *testing.T) {
	a, _, _, _ := newTestAcceptor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	require.NoError(t, a.Start(ctx))
}
