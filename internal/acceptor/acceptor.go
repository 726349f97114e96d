// Package acceptor implements the TCP Acceptor (spec.md §2 component 6,
// §4.1): the long-lived listener that accepts device connections and hands
// each one to a session.Handler on its own goroutine.
//
// The Start/Stop lifecycle (mutex-guarded running flag, stopChan,
// WaitGroup, bounded stop timeout) is adapted from the teacher's
// worker.OutboxProcessor, generalized from a ticker-driven poll loop to an
// Accept loop bounded by a short deadline so it can re-check
// tcp_server:status and the stop signal without blocking forever in
// Accept.
package acceptor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/logging"
	"github.com/fernhollow/roomctl/internal/metrics"
	"github.com/fernhollow/roomctl/internal/serverstatus"
	"github.com/fernhollow/roomctl/internal/session"
)

// Config configures the Acceptor's listen address and status-poll cadence.
type Config struct {
	Host       string
	Port       int
	AcceptPoll time.Duration
}

// Acceptor owns the TCP listener and dispatches accepted connections to a
// session.Handler.
type Acceptor struct {
	cfg     Config
	bus     *bus.Bus
	handler *session.Handler

	mu       sync.Mutex
	running  bool
	listener net.Listener
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New returns an Acceptor that will listen per cfg and hand connections to handler.
func New(cfg Config, b *bus.Bus, handler *session.Handler) *Acceptor {
	return &Acceptor{cfg: cfg, bus: b, handler: handler}
}

// Start binds the listener and begins accepting connections on a background
// goroutine. Returns once the listener is bound, not once it stops.
func (a *Acceptor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}

	if _, err := a.listenLocked(); err != nil {
		return err
	}

	a.stopChan = make(chan struct{})
	a.running = true
	metrics.AcceptorStatus.Set(1)

	a.wg.Add(1)
	go a.acceptLoop(ctx)

	logging.WithFields("acceptor", "acceptor.started", map[string]any{
		"addr": fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
	}).Info("acceptor started")
	return nil
}

// listenLocked binds the listening socket. Callers must hold a.mu.
func (a *Acceptor) listenLocked() (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("acceptor: listen %s: %w", addr, err)
	}
	a.listener = ln
	return ln, nil
}

// closeListener closes the listening socket, if one is open, so the OS
// socket leaves LISTEN state the moment tcp_server:status is observed
// stopped (spec.md §8 invariant 5, scenario 6).
func (a *Acceptor) closeListener() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return
	}
	a.listener.Close() //nolint:errcheck
	a.listener = nil
	metrics.AcceptorStatus.Set(0)
	logging.WithFields("acceptor", "acceptor.listener_closed", nil).Info("server reported stopped, closed listening socket")
}

// ensureListening re-binds the listener if closeListener closed it and
// tcp_server:status has since flipped back to running.
func (a *Acceptor) ensureListening() (net.Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener, nil
	}
	ln, err := a.listenLocked()
	if err != nil {
		return nil, err
	}
	metrics.AcceptorStatus.Set(1)
	logging.WithFields("acceptor", "acceptor.listener_reopened", map[string]any{
		"addr": fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port),
	}).Info("server running again, reopened listening socket")
	return ln, nil
}

// Stop closes the listener and waits for the accept loop and every session
// goroutine it started to return, bounded by a timeout so a stuck syscall
// or a session that is still running never hangs shutdown forever.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopChan)
	if a.listener != nil {
		a.listener.Close() //nolint:errcheck
		a.listener = nil
	}
	a.mu.Unlock()

	metrics.AcceptorStatus.Set(0)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.WithFields("acceptor", "acceptor.stopped", nil).Info("acceptor stopped")
	case <-time.After(10 * time.Second):
		logging.WithFields("acceptor", "acceptor.stop_timeout", nil).Warn("acceptor did not stop within timeout")
	}
}

func (a *Acceptor) acceptLoop(ctx context.Context) {
	defer a.wg.Done()

	poll := a.cfg.AcceptPoll
	if poll <= 0 {
		poll = time.Second
	}

	for {
		select {
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !serverstatus.IsRunning(ctx, a.bus) {
			a.closeListener()
			select {
			case <-a.stopChan:
				return
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}

		ln, err := a.ensureListening()
		if err != nil {
			logging.WithFields("acceptor", "acceptor.listen_error", map[string]any{
				"error": err.Error(),
			}).Warn("failed to reopen listener")
			select {
			case <-a.stopChan:
				return
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}

		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(poll)) //nolint:errcheck
		}

		conn, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-a.stopChan:
				return
			default:
			}
			logging.WithFields("acceptor", "acceptor.accept_error", map[string]any{
				"error": err.Error(),
			}).Warn("accept failed")
			continue
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handler.Handle(ctx, conn)
		}()
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
