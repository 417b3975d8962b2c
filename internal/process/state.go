package process

import "fmt"

// Kind identifies one managed worker.
type Kind string

const (
	KindNode   Kind = "node"
	KindP2Pool Kind = "p2pool"
	KindXmrig  Kind = "xmrig"
	KindProxy  Kind = "proxy"
	KindXvb    Kind = "xvb"
)

// Kinds lists every worker kind in start order.
var Kinds = []Kind{KindNode, KindP2Pool, KindXmrig, KindProxy, KindXvb}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Title is the human facing name used in output summary lines.
func (k Kind) Title() string {
	switch k {
	case KindNode:
		return "Node"
	case KindP2Pool:
		return "P2Pool"
	case KindXmrig:
		return "XMRig"
	case KindProxy:
		return "XMRig-Proxy"
	case KindXvb:
		return "XvB"
	default:
		return string(k)
	}
}

// State is the lifecycle state of a worker. Exactly one value applies at a time
// and only the worker's own watchdog moves it, except Middle which the control
// surface sets when it issues a signal.
type State int32

const (
	StateDead State = iota
	StateAlive
	StateFailed
	StateSyncing
	StateWaiting
	StateMiddle
	StateNotMining
	StateOfflineNodesAll
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	case StateFailed:
		return "failed"
	case StateSyncing:
		return "syncing"
	case StateWaiting:
		return "waiting"
	case StateMiddle:
		return "middle"
	case StateNotMining:
		return "not_mining"
	case StateOfflineNodesAll:
		return "offline_nodes_all"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for c := StateDead; c <= StateOfflineNodesAll; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", string(b))
}

// Signal is a pending control request for a watchdog.
type Signal int32

const (
	SignalNone Signal = iota
	SignalStart
	SignalStop
	SignalRestart
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalStart:
		return "start"
	case SignalStop:
		return "stop"
	case SignalRestart:
		return "restart"
	default:
		return "unknown"
	}
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	for c := SignalNone; c <= SignalRestart; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown process signal %q", string(b))
}
