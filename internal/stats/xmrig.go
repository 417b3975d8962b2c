package stats

import "time"

// XmrigSummary mirrors XMRig's GET /1/summary. XMRig leaves many numbers
// null until it has data, so every numeric leaf is a pointer.
type XmrigSummary struct {
	WorkerID  string `json:"worker_id"`
	Resources struct {
		LoadAverage []*float64 `json:"load_average"`
	} `json:"resources"`
	Connection struct {
		Pool     string  `json:"pool"`
		Diff     *uint64 `json:"diff"`
		Accepted *uint64 `json:"accepted"`
		Rejected *uint64 `json:"rejected"`
	} `json:"connection"`
	Hashrate struct {
		Total []*float64 `json:"total"`
	} `json:"hashrate"`
}

// Xmrig is the presentable snapshot of the XMRig worker.
type Xmrig struct {
	Uptime      time.Duration `json:"uptime"`
	WorkerID    string        `json:"worker_id"`
	Pool        string        `json:"pool"`
	Resources   string        `json:"resources"`
	Hashrate    string        `json:"hashrate"`
	Diff        string        `json:"diff"`
	Accepted    string        `json:"accepted"`
	Rejected    string        `json:"rejected"`
	HashrateRaw float64       `json:"hashrate_raw"`
}

func NewXmrig() Xmrig {
	return Xmrig{
		WorkerID:  Unknown,
		Pool:      Unknown,
		Resources: Unknown,
		Hashrate:  Unknown,
		Diff:      Unknown,
		Accepted:  Unknown,
		Rejected:  Unknown,
	}
}

// UpdateFromPriv rebuilds every field derived from s and carries the rest forward.
func (x *Xmrig) UpdateFromPriv(s XmrigSummary) {
	next := NewXmrig()
	next.Uptime = x.Uptime
	if s.WorkerID != "" {
		next.WorkerID = s.WorkerID
	}
	if s.Connection.Pool != "" {
		next.Pool = s.Connection.Pool
	}
	next.Resources = Load(s.Resources.LoadAverage)
	next.Hashrate = Hashrate(s.Hashrate.Total)
	next.Diff = Count(s.Connection.Diff)
	next.Accepted = Count(s.Connection.Accepted)
	next.Rejected = Count(s.Connection.Rejected)
	next.HashrateRaw = First(s.Hashrate.Total)
	*x = next
}
