package types

import "time"

// EqpEvent is a single observable action of an EQP, pushed to monitor clients.
type EqpEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	EqpID     string    `json:"eqp_id"`
	ConnID    string    `json:"conn_id,omitempty"`
	Cmd       string    `json:"cmd,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// EqpStatus is one EQP row in /api/status.
type EqpStatus struct {
	EqpID      string  `json:"eqp_id"`
	Mode       EqpMode `json:"mode"`
	EndpointID string  `json:"endpoint_id"`
	Address    string  `json:"address"`
	ProfileID  string  `json:"profile_id"`
	Completed  bool    `json:"completed"`
	Connected  bool    `json:"connected"`
}

// Metrics holds the runtime counters of the simulator.
type Metrics struct {
	ActiveSessions int64  `json:"active_sessions"`
	FramesRx       uint64 `json:"frames_rx"`
	FramesTx       uint64 `json:"frames_tx"`
	BytesRx        uint64 `json:"bytes_rx"`
	BytesTx        uint64 `json:"bytes_tx"`
}

// SimStatus is the body of /api/status.
type SimStatus struct {
	State            string         `json:"state"`
	TotalEqps        int            `json:"total_eqps"`
	CompletedEqps    int            `json:"completed_eqps"`
	PassiveOpen      int            `json:"passive_open"`
	EndpointSessions map[string]int `json:"endpoint_sessions"`
	Metrics          Metrics        `json:"metrics"`
	Eqps             []EqpStatus    `json:"eqps"`
}
