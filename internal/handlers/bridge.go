package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	brg "github.com/fernhollow/roomctl/internal/bridge"
	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/gorilla/mux"
)

// BridgeCommandRequest is the JSON body for a synchronous direct command
// (spec.md §4.5 Direct-Command Channel).
type BridgeCommandRequest struct {
	Action         protocol.PhysicalAction `json:"action"`
	Params         json.RawMessage         `json:"params,omitempty"`
	TimeoutSeconds int                     `json:"timeout_seconds,omitempty"`
}

// BridgeCommandHandler synchronously invokes a physical device's
// Direct-Command Channel and returns its response (or a timeout error) to
// the caller.
func BridgeCommandHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["id"]
		if deviceID == "" {
			http.Error(w, "missing device id", http.StatusBadRequest)
			return
		}

		var req BridgeCommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		timeout := deps.Config.Timeouts.BridgeDefaultTimeout()
		if req.TimeoutSeconds > 0 {
			timeout = time.Duration(req.TimeoutSeconds) * time.Second
		}

		resp, err := deps.Bridge.Send(r.Context(), deviceID, protocol.PhysicalCommand{
			Action: req.Action, Params: req.Params,
		}, timeout)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case err == nil:
			json.NewEncoder(w).Encode(resp) //nolint:errcheck
		case errors.Is(err, brg.ErrNotConnected):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(protocol.FailedResponse(err.Error())) //nolint:errcheck
		case errors.Is(err, brg.ErrTimeout):
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(protocol.FailedResponse(err.Error())) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(protocol.FailedResponse(err.Error())) //nolint:errcheck
		}
	}
}
