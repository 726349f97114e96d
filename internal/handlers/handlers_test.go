package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernhollow/roomctl/internal/bridge"
	"github.com/fernhollow/roomctl/internal/bus"
	"github.com/fernhollow/roomctl/internal/config"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/fernhollow/roomctl/internal/queue"
	"github.com/fernhollow/roomctl/internal/registry"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) *Dependencies {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := bus.New("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	reg := registry.New(b)
	return &Dependencies{
		Config:   &config.Config{Timeouts: config.TimeoutConfig{BridgeDefaultTimeoutSeconds: 1}},
		Bus:      b,
		Registry: reg,
		Queue:    queue.New(b),
		Bridge:   bridge.New(b, reg, 5*time.Millisecond),
	}
}

func TestHealthHandlerAlwaysOK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestReadyHandlerReflectsBusConnectivity(t *testing.T) {
	deps := newTestDeps(t)
	rr := httptest.NewRecorder()
	ReadyHandler(deps)(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
}

func TestDevicesHandlerReturnsSnapshot(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, deps.Registry.RegisterLogical(context.Background(), registry.Record{
		DeviceID: "1.2.3.4:panel", Kind: "logical", DeviceName: "panel",
	}))

	rr := httptest.NewRecorder()
	DevicesHandler(deps)(rr, httptest.NewRequest(http.MethodGet, "/devices", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp DevicesResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Contains(t, resp.Logical, "1.2.3.4:panel")
}

func TestPushCommandHandlerEnqueues(t *testing.T) {
	deps := newTestDeps(t)

	body, _ := json.Marshal(PushCommandRequest{Command: "reset", NodeID: "n1"})
	req := httptest.NewRequest(http.MethodPost, "/devices/dev1/commands", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "dev1"})
	rr := httptest.NewRecorder()

	PushCommandHandler(deps)(rr, req)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pending, err := deps.Queue.Pending(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "reset", pending[0].Command)
}

func TestPushCommandHandlerRejectsMissingCommand(t *testing.T) {
	deps := newTestDeps(t)

	body, _ := json.Marshal(PushCommandRequest{})
	req := httptest.NewRequest(http.MethodPost, "/devices/dev1/commands", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "dev1"})
	rr := httptest.NewRecorder()

	PushCommandHandler(deps)(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBridgeCommandHandlerNotConnected(t *testing.T) {
	deps := newTestDeps(t)

	body, _ := json.Marshal(BridgeCommandRequest{Action: protocol.ActionGetMetrics})
	req := httptest.NewRequest(http.MethodPost, "/devices/pi-1/bridge", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "pi-1"})
	rr := httptest.NewRecorder()

	BridgeCommandHandler(deps)(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBridgeCommandHandlerTimeout(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, deps.Registry.RegisterPhysical(context.Background(), registry.Record{
		DeviceID: "pi-2", Kind: "physical",
	}))

	body, _ := json.Marshal(BridgeCommandRequest{Action: protocol.ActionGetMetrics, TimeoutSeconds: 1})
	req := httptest.NewRequest(http.MethodPost, "/devices/pi-2/bridge", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "pi-2"})
	rr := httptest.NewRecorder()

	BridgeCommandHandler(deps)(rr, req)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}
