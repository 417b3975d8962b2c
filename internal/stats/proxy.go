package stats

import "time"

// ProxySummary mirrors XMRig-Proxy's GET /1/summary.
type ProxySummary struct {
	WorkerID string `json:"worker_id"`
	Hashrate struct {
		Total []*float64 `json:"total"`
	} `json:"hashrate"`
	Miners struct {
		Now *uint64 `json:"now"`
		Max *uint64 `json:"max"`
	} `json:"miners"`
	Results struct {
		Accepted *uint64 `json:"accepted"`
		Rejected *uint64 `json:"rejected"`
	} `json:"results"`
}

// Proxy is the presentable snapshot of the XMRig-Proxy worker.
type Proxy struct {
	Uptime      time.Duration `json:"uptime"`
	WorkerID    string        `json:"worker_id"`
	Hashrate    string        `json:"hashrate"`
	Miners      string        `json:"miners"`
	Accepted    string        `json:"accepted"`
	Rejected    string        `json:"rejected"`
	HashrateRaw float64       `json:"hashrate_raw"`
}

func NewProxy() Proxy {
	return Proxy{
		WorkerID: Unknown,
		Hashrate: Unknown,
		Miners:   Unknown,
		Accepted: Unknown,
		Rejected: Unknown,
	}
}

func (p *Proxy) UpdateFromPriv(s ProxySummary) {
	next := NewProxy()
	next.Uptime = p.Uptime
	if s.WorkerID != "" {
		next.WorkerID = s.WorkerID
	}
	next.Hashrate = Hashrate(s.Hashrate.Total)
	next.Miners = Count(s.Miners.Now) + " / " + Count(s.Miners.Max)
	next.Accepted = Count(s.Results.Accepted)
	next.Rejected = Count(s.Results.Rejected)
	next.HashrateRaw = First(s.Hashrate.Total)
	*p = next
}
