// Package config loads roomctl's runtime configuration from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/m0rjc/goconfig"
)

// TCPConfig configures the device-facing TCP acceptor (spec.md §6: "Listen
// host/port are constants with env overrides").
type TCPConfig struct {
	Host string `key:"HOST" default:"0.0.0.0"`
	Port int    `key:"PORT" default:"65432" min:"1" max:"65535"`
}

// BusConfig configures the shared Redis-compatible bus connection.
type BusConfig struct {
	URL       string `key:"BUS_URL" default:"redis://localhost:6379"`
	KeyPrefix string `key:"BUS_KEY_PREFIX"`
}

// AdminConfig configures the device-registry/bridge admin HTTP surface
// (spec.md §1 "thin HTTP surface for operator tooling").
type AdminConfig struct {
	Host string `key:"ADMIN_HOST" default:"0.0.0.0"`
	Port int    `key:"ADMIN_PORT" default:"8080" min:"1" max:"65535"`
}

// MetricsConfig configures the internal-only health/ready/metrics surface.
// It is deliberately a separate listener on a separate port from
// AdminConfig, matching the teacher's split between its main API server
// and its internal metrics server.
type MetricsConfig struct {
	Host string `key:"METRICS_HOST" default:"0.0.0.0"`
	Port int    `key:"METRICS_PORT" default:"9090" min:"1" max:"65535"`
}

// TimeoutConfig holds every timing constant named in spec.md §4/§5.
type TimeoutConfig struct {
	// IdlePollMillis is the Idle-state poll interval for logical sessions
	// and the Direct-Command slot poll interval for physical sessions
	// (spec.md §4.3/§4.4 both use "every ≈200 ms").
	IdlePollMillis int `key:"IDLE_POLL_MILLIS" default:"200" min:"1"`

	// BridgePollMillis is the Direct-Command bridge's response-slot poll
	// interval (spec.md §4.5: "≈100 ms intervals").
	BridgePollMillis int `key:"BRIDGE_POLL_MILLIS" default:"100" min:"1"`

	// BridgeDefaultTimeoutSeconds is the bridge caller's default wait
	// (spec.md §4.5: "default 30 s").
	BridgeDefaultTimeoutSeconds int `key:"BRIDGE_DEFAULT_TIMEOUT_SECONDS" default:"30" min:"1"`

	// PhysicalReadTimeoutSeconds is the physical session's per-command
	// socket read deadline (spec.md §4.4: "30 s socket read timeout").
	PhysicalReadTimeoutSeconds int `key:"PHYSICAL_READ_TIMEOUT_SECONDS" default:"30" min:"1"`

	// PhysicalResponseTTLSeconds is the TTL on the physical_response slot
	// (spec.md §4.4/§6: "60 s TTL").
	PhysicalResponseTTLSeconds int `key:"PHYSICAL_RESPONSE_TTL_SECONDS" default:"60" min:"1"`

	// DisconnectFlagTTLSeconds is the TTL for the operator-set <id>:disconnect
	// flag (spec.md §6: "TTL ≤ 10 s"). roomctl never sets that flag itself,
	// and no roomctl component reads this value.
	DisconnectFlagTTLSeconds int `key:"DISCONNECT_FLAG_TTL_SECONDS" default:"10" min:"1"`

	// KeepaliveIdleSeconds/IntervalSeconds/Count implement spec.md §4.2's
	// "idle 60s, interval 10s, 3 probes → dead after ~90s idle".
	KeepaliveIdleSeconds     int `key:"KEEPALIVE_IDLE_SECONDS" default:"60" min:"1"`
	KeepaliveIntervalSeconds int `key:"KEEPALIVE_INTERVAL_SECONDS" default:"10" min:"1"`
	KeepaliveCount           int `key:"KEEPALIVE_COUNT" default:"3" min:"1"`

	// AcceptPollSeconds is the Acceptor's accept-timeout used to re-check
	// tcp_server:status (spec.md §4.1: "short (≈1 s) timeout").
	AcceptPollSeconds int `key:"ACCEPT_POLL_SECONDS" default:"1" min:"1"`

	// HandshakeBufferBytes bounds the framed JSON reader's buffer, reused
	// for the handshake and every subsequent message on the same
	// connection (spec.md §4.2/§4.3: "initial buffer ≤ 4 KiB").
	HandshakeBufferBytes int `key:"HANDSHAKE_BUFFER_BYTES" default:"4096" min:"256"`
}

// Config is the complete roomctl configuration.
type Config struct {
	TCP      TCPConfig
	Admin    AdminConfig
	Metrics  MetricsConfig
	Bus      BusConfig
	Timeouts TimeoutConfig
}

// Load loads Config from the environment, applying goconfig's tag-driven
// defaults/bounds/required checks.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := goconfig.Load(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (t TimeoutConfig) IdlePoll() time.Duration {
	return time.Duration(t.IdlePollMillis) * time.Millisecond
}

func (t TimeoutConfig) BridgePoll() time.Duration {
	return time.Duration(t.BridgePollMillis) * time.Millisecond
}

func (t TimeoutConfig) BridgeDefaultTimeout() time.Duration {
	return time.Duration(t.BridgeDefaultTimeoutSeconds) * time.Second
}

func (t TimeoutConfig) PhysicalReadTimeout() time.Duration {
	return time.Duration(t.PhysicalReadTimeoutSeconds) * time.Second
}

func (t TimeoutConfig) PhysicalResponseTTL() time.Duration {
	return time.Duration(t.PhysicalResponseTTLSeconds) * time.Second
}

func (t TimeoutConfig) DisconnectFlagTTL() time.Duration {
	return time.Duration(t.DisconnectFlagTTLSeconds) * time.Second
}

func (t TimeoutConfig) KeepaliveIdle() time.Duration {
	return time.Duration(t.KeepaliveIdleSeconds) * time.Second
}

func (t TimeoutConfig) KeepaliveInterval() time.Duration {
	return time.Duration(t.KeepaliveIntervalSeconds) * time.Second
}

func (t TimeoutConfig) AcceptPoll() time.Duration {
	return time.Duration(t.AcceptPollSeconds) * time.Second
}
