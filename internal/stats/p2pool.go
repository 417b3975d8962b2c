package stats

import "time"

// P2poolStratum mirrors P2Pool's GET /local/stratum.
type P2poolStratum struct {
	Hashrate15m       *float64 `json:"hashrate_15m"`
	Hashrate1h        *float64 `json:"hashrate_1h"`
	Hashrate24h       *float64 `json:"hashrate_24h"`
	TotalHashes       *uint64  `json:"total_hashes"`
	SharesFound       *uint64  `json:"shares_found"`
	SharesFailed      *uint64  `json:"shares_failed"`
	AverageEffort     *float64 `json:"average_effort"`
	CurrentEffort     *float64 `json:"current_effort"`
	Connections       *uint64  `json:"connections"`
	RewardSharePct    *float64 `json:"block_reward_share_percent"`
	IncomingConnected *uint64  `json:"incoming_connections"`
}

// P2pool is the presentable snapshot of the P2Pool worker.
type P2pool struct {
	Uptime        time.Duration `json:"uptime"`
	Hashrate      string        `json:"hashrate"`
	SharesFound   string        `json:"shares_found"`
	SharesFailed  string        `json:"shares_failed"`
	AverageEffort string        `json:"average_effort"`
	CurrentEffort string        `json:"current_effort"`
	Connections   string        `json:"connections"`
	RewardShare   string        `json:"reward_share"`

	// ShareInWindow reports a non-zero block reward share, which P2Pool
	// only computes while one of our shares sits in the PPLNS window.
	ShareInWindow bool    `json:"share_in_window"`
	HashrateRaw   float64 `json:"hashrate_raw"`
}

func NewP2pool() P2pool {
	return P2pool{
		Hashrate:      Unknown,
		SharesFound:   Unknown,
		SharesFailed:  Unknown,
		AverageEffort: Unknown,
		CurrentEffort: Unknown,
		Connections:   Unknown,
		RewardShare:   Unknown,
	}
}

func (p *P2pool) UpdateFromPriv(s P2poolStratum) {
	next := NewP2pool()
	next.Uptime = p.Uptime
	next.Hashrate = Hashrate([]*float64{s.Hashrate15m, s.Hashrate1h, s.Hashrate24h})
	next.SharesFound = Count(s.SharesFound)
	next.SharesFailed = Count(s.SharesFailed)
	next.AverageEffort = Percent(s.AverageEffort)
	next.CurrentEffort = Percent(s.CurrentEffort)
	next.Connections = Count(s.Connections)
	next.RewardShare = Percent(s.RewardSharePct)
	next.ShareInWindow = s.RewardSharePct != nil && *s.RewardSharePct > 0
	if s.Hashrate15m != nil {
		next.HashrateRaw = *s.Hashrate15m
	}
	*p = next
}
