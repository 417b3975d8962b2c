package process

import "time"

// Status is the presentation snapshot of a worker.
type Status struct {
	Kind      Kind          `json:"kind"`
	State     State         `json:"state"`
	Signal    Signal        `json:"signal"`
	Health    Health        `json:"health"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid"`
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	Output    string        `json:"output"`
}

// Health is the coarse indicator shown next to a worker.
type Health string

const (
	HealthGreen  Health = "green"
	HealthGray   Health = "gray"
	HealthRed    Health = "red"
	HealthOrange Health = "orange"
	HealthYellow Health = "yellow"
)

// Classify maps a state to its indicator. Orange means "degraded but doing
// something": syncing for node and p2pool, not mining for the hashing engines,
// public stats only for XvB.
func Classify(kind Kind, s State) Health {
	switch s {
	case StateAlive:
		return HealthGreen
	case StateDead:
		return HealthGray
	case StateFailed:
		return HealthRed
	}
	switch kind {
	case KindNode, KindP2Pool:
		if s == StateSyncing {
			return HealthOrange
		}
	case KindXmrig, KindProxy:
		if s == StateNotMining || s == StateOfflineNodesAll {
			return HealthOrange
		}
	case KindXvb:
		if s == StateNotMining || s == StateSyncing || s == StateOfflineNodesAll {
			return HealthOrange
		}
	}
	return HealthYellow
}
