package stats

import (
	"strconv"
	"time"
)

// NodeInfo mirrors the node's GET /get_info.
type NodeInfo struct {
	Version      string  `json:"version"`
	Nettype      string  `json:"nettype"`
	Height       *uint64 `json:"height"`
	TargetHeight *uint64 `json:"target_height"`
	Difficulty   *uint64 `json:"difficulty"`
	Incoming     *uint64 `json:"incoming_connections_count"`
	Outgoing     *uint64 `json:"outgoing_connections_count"`
	TxPoolSize   *uint64 `json:"tx_pool_size"`
	DatabaseSize *uint64 `json:"database_size"`
	Synchronized *bool   `json:"synchronized"`
}

// Node is the presentable snapshot of the blockchain node.
type Node struct {
	Uptime       time.Duration `json:"uptime"`
	Version      string        `json:"version"`
	Nettype      string        `json:"nettype"`
	Height       string        `json:"height"`
	Difficulty   string        `json:"difficulty"`
	Connections  string        `json:"connections"`
	TxPool       string        `json:"tx_pool"`
	DatabaseSize string        `json:"database_size"`
	Synchronized bool          `json:"synchronized"`
	SyncProgress string        `json:"sync_progress"`
}

func NewNode() Node {
	return Node{
		Version:      Unknown,
		Nettype:      Unknown,
		Height:       Unknown,
		Difficulty:   Unknown,
		Connections:  Unknown,
		TxPool:       Unknown,
		DatabaseSize: Unknown,
		SyncProgress: Unknown,
	}
}

func (n *Node) UpdateFromPriv(s NodeInfo) {
	next := NewNode()
	next.Uptime = n.Uptime
	if s.Version != "" {
		next.Version = s.Version
	}
	if s.Nettype != "" {
		next.Nettype = s.Nettype
	}
	next.Height = Count(s.Height)
	next.Difficulty = Count(s.Difficulty)
	next.Connections = Count(s.Incoming) + " in / " + Count(s.Outgoing) + " out"
	next.TxPool = Count(s.TxPoolSize)
	next.DatabaseSize = Bytes(s.DatabaseSize)
	next.Synchronized = s.Synchronized != nil && *s.Synchronized
	next.SyncProgress = syncProgress(s.Height, s.TargetHeight, next.Synchronized)
	*n = next
}

func syncProgress(height, target *uint64, synced bool) string {
	if synced {
		return "100%"
	}
	if height == nil || target == nil || *target == 0 {
		return Unknown
	}
	pct := float64(*height) / float64(*target) * 100
	if pct > 100 {
		pct = 100
	}
	return strconv.FormatFloat(pct, 'f', 2, 64) + "%"
}
