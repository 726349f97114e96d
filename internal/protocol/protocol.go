// Package protocol defines the JSON wire shapes exchanged between the
// dispatcher and devices (spec.md §3 "Data Model" and §6 "TCP wire").
package protocol

import "encoding/json"

// DeviceKind distinguishes the two device classes spec.md §3 names.
type DeviceKind string

const (
	KindLogical  DeviceKind = "logical"
	KindPhysical DeviceKind = "physical"
)

// Handshake is the single framed JSON object a device sends immediately
// after connecting (spec.md §4.2, §6).
type Handshake struct {
	Type       DeviceKind      `json:"type,omitempty"`
	DeviceName string          `json:"device_name,omitempty"`
	NumNodes   int             `json:"num_nodes,omitempty"`
	NumHints   int             `json:"num_hints,omitempty"`
	Status     string          `json:"status,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Normalize applies the defaults spec.md §4.2/§6 require: type defaults to
// "logical", num_nodes defaults to 1.
func (h *Handshake) Normalize() {
	if h.Type == "" {
		h.Type = KindLogical
	}
	if h.NumNodes <= 0 {
		h.NumNodes = 1
	}
}

// Envelope is a server→device command message (spec.md §3 "Command
// Envelope"). Logical and physical fields coexist in one struct since the
// wire shape differs only by which fields are populated, and a single
// type keeps the JSON encode/decode path in internal/session uniform.
type Envelope struct {
	// Logical fields.
	Command      string          `json:"command,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	NodeID       string          `json:"node_id,omitempty"`
	ScenarioName string          `json:"scenario_name,omitempty"`
	Index        *int            `json:"index,omitempty"`

	// Physical fields.
	Action string          `json:"action,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// PhysicalAction enumerates the physical device actions named in spec.md §3.
type PhysicalAction string

const (
	ActionGetMetrics    PhysicalAction = "get_metrics"
	ActionListDevices   PhysicalAction = "list_devices"
	ActionRestartDevice PhysicalAction = "restart_device"
	ActionStopDevice    PhysicalAction = "stop_device"
	ActionStartDevice   PhysicalAction = "start_device"
	ActionRestartPi     PhysicalAction = "restart_pi"
)

// Ack statuses (spec.md §3 "Acknowledgment").
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFailed  = "failed"
)

// Ack is a device→server acknowledgment. Logical devices populate
// Status/NodeID; physical devices populate Status/Message/Data. The
// session decodes logical acks into Ack; physical replies are decoded
// into PhysicalResponse instead.
type Ack struct {
	Status  string          `json:"status"`
	NodeID  string          `json:"node_id,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Succeeded reports whether the ack indicates the command completed
// successfully (spec.md §3: logical success is exactly "success"; any
// other value, including "error" and "failed", is not success).
func (a Ack) Succeeded() bool {
	return a.Status == StatusSuccess
}

// PhysicalCommand is the payload stored in the <id>:physical_command slot
// (spec.md §4.5, §6).
type PhysicalCommand struct {
	Action PhysicalAction  `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// PhysicalResponse is the payload stored in the <id>:physical_response slot.
type PhysicalResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// FailedResponse builds the "timeout or error" response shape spec.md §4.4
// requires: {status: "failed", message: <reason>}.
func FailedResponse(reason string) PhysicalResponse {
	return PhysicalResponse{Status: StatusFailed, Message: reason}
}
