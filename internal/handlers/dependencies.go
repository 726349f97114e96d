package handlers

import (
	"github.com/fernhollow/roomctl/internal/bridge"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/ledger"
	"github.com/fernhollow/roomctl/internal/queue"
	"github.com/fernhollow/roomctl/internal/registry"
)

// Dependencies bundles the packages the admin HTTP surface reads from or
// writes to. It does not own a TCP session's lifecycle; that belongs to
// internal/acceptor and internal/session.
type Dependencies struct {
	Config   *config.Config
	Bus      *bus.Bus
	Registry *registry.Registry
	Queue    *queue.Queue
	Ledger   *ledger.Ledger
	Bridge   *bridge.Bridge
}
