package xvb

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how the distribution decision is taken.
type Mode string

const (
	ModeAuto                Mode = "auto"
	ModeManualXvb           Mode = "manual_xvb"
	ModeManualP2pool        Mode = "manual_p2pool"
	ModeHero                Mode = "hero"
	ModeManualDonationLevel Mode = "manual_donation_level"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeManualXvb, ModeManualP2pool, ModeHero, ModeManualDonationLevel:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown xvb mode %q", s)
}

// Level is a donation tier. Higher levels need more sustained hashrate.
type Level int

const (
	LevelNone Level = iota
	LevelDonor
	LevelDonorVIP
	LevelDonorWhale
	LevelDonorMega
)

func (l Level) String() string {
	switch l {
	case LevelDonor:
		return "donor"
	case LevelDonorVIP:
		return "donor_vip"
	case LevelDonorWhale:
		return "donor_whale"
	case LevelDonorMega:
		return "donor_mega"
	default:
		return "none"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "donor", "":
		return LevelDonor, nil
	case "donor_vip", "vip":
		return LevelDonorVIP, nil
	case "donor_whale", "whale":
		return LevelDonorWhale, nil
	case "donor_mega", "mega":
		return LevelDonorMega, nil
	}
	return LevelNone, fmt.Errorf("unknown donation level %q", s)
}

// Tiers holds the minimum sustained hashrate (H/s) of each level.
type Tiers struct {
	Donor, VIP, Whale, Mega float64
}

// DefaultTiers are the thresholds published by XvB.
var DefaultTiers = Tiers{Donor: 1_000, VIP: 10_000, Whale: 100_000, Mega: 1_000_000}

// Min returns the threshold of l, 0 for LevelNone.
func (t Tiers) Min(l Level) float64 {
	switch l {
	case LevelDonor:
		return t.Donor
	case LevelDonorVIP:
		return t.VIP
	case LevelDonorWhale:
		return t.Whale
	case LevelDonorMega:
		return t.Mega
	}
	return 0
}

// Round returns the highest level sustained by both averages.
func (t Tiers) Round(avg1h, avg24h float64) Level {
	round := LevelNone
	for l := LevelDonor; l <= LevelDonorMega; l++ {
		if avg1h < t.Min(l) || avg24h < t.Min(l) {
			break
		}
		round = l
	}
	return round
}

// Inputs is everything one decision depends on. Each field is read from an
// independently timed snapshot.
type Inputs struct {
	Mode   Mode
	Level  Level   // ModeManualDonationLevel
	Amount float64 // H/s, ModeManualXvb and ModeManualP2pool
	Tiers  Tiers
	Margin float64
	Period time.Duration

	Hashrate      float64
	Avg1h, Avg24h float64
	ShareInWindow bool
	PrivateFailed bool
	NodesOffline  bool
}

// Decision is how long the next period is spent on XvB; the rest goes to P2Pool.
type Decision struct {
	Target  Level         `json:"target"`
	XvbTime time.Duration `json:"xvb_time"`
	// Safe marks the fallback allocation: everything on P2Pool, no switching.
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// P2poolTime is the share of the period left on P2Pool.
func (d Decision) P2poolTime(period time.Duration) time.Duration {
	if d.XvbTime >= period {
		return 0
	}
	return period - d.XvbTime
}

func safe(reason string) Decision { return Decision{Safe: true, Reason: reason} }

// Decide computes the allocation for the next period.
func Decide(in Inputs) Decision {
	switch {
	case in.PrivateFailed:
		return safe("private stats unavailable")
	case in.NodesOffline:
		return safe("all XvB nodes offline")
	case !in.ShareInWindow:
		return safe("no share in the P2Pool window")
	case in.Hashrate <= 0:
		return safe("no hashrate reported")
	case in.Period <= 0:
		return safe("no decision period")
	}

	switch in.Mode {
	case ModeHero:
		return Decision{XvbTime: in.Period, Reason: "hero"}
	case ModeManualXvb:
		return Decision{XvbTime: share(in.Period, in.Amount, in.Hashrate), Reason: "manual xvb amount"}
	case ModeManualP2pool:
		return Decision{XvbTime: share(in.Period, in.Hashrate-in.Amount, in.Hashrate), Reason: "manual p2pool amount"}
	case ModeManualDonationLevel:
		need := in.Tiers.Min(in.Level) * (1 + in.Margin)
		return Decision{Target: in.Level, XvbTime: share(in.Period, need, in.Hashrate), Reason: "manual donation level"}
	}

	target := LevelNone
	for l := LevelDonor; l <= LevelDonorMega; l++ {
		if in.Tiers.Min(l)*(1+in.Margin) > in.Hashrate {
			break
		}
		if prev := l - 1; prev > LevelNone {
			floor := in.Tiers.Min(prev)
			if in.Avg1h < floor || in.Avg24h < floor {
				break
			}
		}
		target = l
	}
	if target == LevelNone {
		return Decision{Reason: "hashrate below donor tier"}
	}
	need := in.Tiers.Min(target) * (1 + in.Margin)
	return Decision{Target: target, XvbTime: share(in.Period, need, in.Hashrate), Reason: "auto"}
}

// share returns the part of period that hashrate must spend to average part.
func share(period time.Duration, part, hashrate float64) time.Duration {
	if part <= 0 || hashrate <= 0 {
		return 0
	}
	if part >= hashrate {
		return period
	}
	d := time.Duration(float64(period) * part / hashrate)
	return d.Round(time.Millisecond)
}
