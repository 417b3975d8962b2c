package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Hashrate renders a hashrate series (e.g. 10s/60s/15m) as "[a, b, c]".
func Hashrate(series []*float64) string {
	if len(series) == 0 {
		return Unknown
	}
	parts := make([]string, len(series))
	for i, h := range series {
		if h == nil {
			parts[i] = Unknown
			continue
		}
		parts[i] = humanize.SIWithDigits(*h, 2, "H/s")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// HashrateOne renders a single nullable hashrate.
func HashrateOne(h *float64) string {
	if h == nil {
		return Unknown
	}
	return humanize.SIWithDigits(*h, 2, "H/s")
}

// Load renders a load average triple.
func Load(avg []*float64) string {
	if len(avg) == 0 {
		return Unknown
	}
	parts := make([]string, len(avg))
	for i, l := range avg {
		if l == nil {
			parts[i] = Unknown
			continue
		}
		parts[i] = fmt.Sprintf("%.2f", *l)
	}
	return strings.Join(parts, ", ")
}

// Count renders a nullable counter with thousands separators.
func Count(n *uint64) string {
	if n == nil {
		return Unknown
	}
	return humanize.Comma(int64(*n))
}

// Bytes renders a nullable byte size.
func Bytes(n *uint64) string {
	if n == nil {
		return Unknown
	}
	return humanize.Bytes(*n)
}

// Percent renders a nullable percentage.
func Percent(p *float64) string {
	if p == nil {
		return Unknown
	}
	return humanize.FormatFloat("#,###.##", *p) + "%"
}

// Uptime renders an elapsed duration at second resolution.
func Uptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

// First returns the most recent sample of series, or 0 when unreported.
func First(series []*float64) float64 {
	if len(series) > 0 && series[0] != nil {
		return *series[0]
	}
	return 0
}
