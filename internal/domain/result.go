package domain

import "time"

// MonitoringResult is one raw check outcome as recorded by the sink.
type MonitoringResult struct {
	ID        int64      `json:"id"`
	NodeID    int64      `json:"node_id"`
	Status    NodeStatus `json:"status"`
	Success   bool       `json:"success"`
	LatencyMS *float64   `json:"latency_ms"` // nil when the attempt never completed
	Details   string     `json:"details,omitempty"`
	CheckedAt time.Time  `json:"checked_at"`
}

// StatusChange is an append-only record of a confirmed availability
// transition. DurationMS is the time spent in the prior state, when known.
type StatusChange struct {
	ID         int64      `json:"id"`
	NodeID     int64      `json:"node_id"`
	FromStatus NodeStatus `json:"from_status"`
	ToStatus   NodeStatus `json:"to_status"`
	ChangedAt  time.Time  `json:"changed_at"`
	DurationMS *int64     `json:"duration_ms"` // nil before the first transition is observed
}
