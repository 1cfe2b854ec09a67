package adminapi

import "github.com/kiloop/keyindex/internal/ops"

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        string       `json:"status"`
	Role          string       `json:"role"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Host          ops.Snapshot `json:"host"`
}

// WorkerView is one worker's entry in GET /workers.
type WorkerView struct {
	ID             uint32 `json:"id"`
	UDPAddr        string `json:"udp_addr,omitempty"`
	TCPAddr        string `json:"tcp_addr,omitempty"`
	Active         bool   `json:"active"`
	KeyCount       int    `json:"key_count"`
	RecentAddCount int    `json:"recent_add_count"`
	LeftID         uint32 `json:"left_id,omitempty"`
	RightID        uint32 `json:"right_id,omitempty"`
	RangeValid     bool   `json:"range_valid"`
	RangeUnlimited bool   `json:"range_unlimited"`
	RangeMin       string `json:"range_min,omitempty"`
}

// WorkersResponse is the body of GET /workers.
type WorkersResponse struct {
	Workers []WorkerView `json:"workers"`
}

// RingResponse is the body of GET /ring: the same workers ordered by
// range.min, the ring's natural left-to-right order.
type RingResponse struct {
	Workers []WorkerView `json:"workers"`
}
