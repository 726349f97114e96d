package handlers

import (
	"encoding/json"
	"net/http"
)

// DevicesResponse mirrors the Fleet Registry's two mirrors (spec.md §4.6),
// exposed read-only for operator tooling.
type DevicesResponse struct {
	Logical  map[string]registryRecordView `json:"logical"`
	Physical map[string]registryRecordView `json:"physical"`
}

type registryRecordView struct {
	DeviceID   string `json:"device_id"`
	Kind       string `json:"kind"`
	DeviceName string `json:"device_name,omitempty"`
	NumNodes   int    `json:"num_nodes,omitempty"`
	NumHints   int    `json:"num_hints,omitempty"`
	Status     string `json:"status,omitempty"`
}

// DevicesHandler returns a snapshot of the Fleet Registry.
func DevicesHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logical, physical := deps.Registry.Snapshot()

		resp := DevicesResponse{
			Logical:  make(map[string]registryRecordView, len(logical)),
			Physical: make(map[string]registryRecordView, len(physical)),
		}
		for id, rec := range logical {
			resp.Logical[id] = registryRecordView{
				DeviceID: rec.DeviceID, Kind: rec.Kind, DeviceName: rec.DeviceName,
				NumNodes: rec.NumNodes, NumHints: rec.NumHints, Status: rec.Status,
			}
		}
		for id, rec := range physical {
			resp.Physical[id] = registryRecordView{
				DeviceID: rec.DeviceID, Kind: rec.Kind,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}
}
