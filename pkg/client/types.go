package client

import (
	"encoding/json"
	"time"
)

// WorkerStatus is one worker as reported by GET /workers.
type WorkerStatus struct {
	Kind      string          `json:"kind"`
	State     string          `json:"state"`
	Signal    string          `json:"signal"`
	Health    string          `json:"health"`
	Running   bool            `json:"running"`
	PID       int             `json:"pid"`
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Uptime    time.Duration   `json:"uptime"`
	Output    string          `json:"output"`
	Stats     json.RawMessage `json:"stats"`
	Resources Resources       `json:"resources"`
}

// Resources is the latest CPU and memory sample of a worker's child.
type Resources struct {
	CPUPercent float64 `json:"cpu_percent"`
	Load       float64 `json:"load"`
	Cores      int     `json:"cores"`
	RSS        uint64  `json:"rss"`
	RSSText    string  `json:"rss_text"`
}

// XvbRuntime changes the XvB distribution mode of the running worker.
type XvbRuntime struct {
	Mode   string  `json:"mode"`
	Amount float64 `json:"amount"`
	Level  string  `json:"level,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
