package stats

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time sample of a child's resource usage.
// CPUPercent sums over cores; Load divides it by the online core count.
type Resources struct {
	CPUPercent float64   `json:"cpu_percent"`
	Load       float64   `json:"load"`
	Cores      int       `json:"cores"`
	RSS        uint64    `json:"rss"`
	RSSText    string    `json:"rss_text"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// SampleResources reads CPU and memory usage of pid. It returns false when the
// process is gone or cannot be inspected.
func SampleResources(ctx context.Context, pid int) (Resources, bool) {
	if pid <= 0 {
		return Resources{}, false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Resources{}, false
	}
	r := Resources{Cores: onlineCores()}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		r.CPUPercent = cpu
		r.Load = cpu / float64(r.Cores)
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		r.RSS = mem.RSS
	}
	r.RSSText = humanize.Bytes(r.RSS)
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		r.StartedAt = time.UnixMilli(ms)
	}
	return r, true
}
