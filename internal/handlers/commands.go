package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fernhollow/roomctl/internal/protocol"
	"github.com/gorilla/mux"
)

// PushCommandRequest is the JSON body for queuing a logical command envelope.
type PushCommandRequest struct {
	Command      string          `json:"command"`
	Config       json.RawMessage `json:"config,omitempty"`
	NodeID       string          `json:"node_id,omitempty"`
	ScenarioName string          `json:"scenario_name,omitempty"`
}

// PushCommandHandler enqueues a Command Envelope for a logical (sub-)device
// id, per SPEC_FULL.md §7.5: producers must submit a proper envelope, not
// the prototype's bare hint-id string.
func PushCommandHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["id"]
		if deviceID == "" {
			http.Error(w, "missing device id", http.StatusBadRequest)
			return
		}

		var req PushCommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Command == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}

		env := protocol.Envelope{
			Command:      req.Command,
			Config:       req.Config,
			NodeID:       req.NodeID,
			ScenarioName: req.ScenarioName,
		}
		if err := deps.Queue.Push(r.Context(), deviceID, env); err != nil {
			http.Error(w, "queue push failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
