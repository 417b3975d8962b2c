package xvb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base() Inputs {
	return Inputs{
		Mode:          ModeAuto,
		Tiers:         DefaultTiers,
		Margin:        0.15,
		Period:        600 * time.Second,
		Hashrate:      20_000,
		ShareInWindow: true,
	}
}

func TestDecideAuto(t *testing.T) {
	cases := []struct {
		name          string
		hashrate      float64
		avg1h, avg24h float64
		target        Level
		xvb           time.Duration
	}{
		{"averages below donor never reach vip", 20_000, 500, 500, LevelDonor, 34500 * time.Millisecond},
		{"donor sustained unlocks vip", 20_000, 2_000, 2_000, LevelDonorVIP, 345 * time.Second},
		{"only 1h average sustained", 20_000, 2_000, 800, LevelDonor, 34500 * time.Millisecond},
		{"below donor threshold", 900, 0, 0, LevelNone, 0},
		{"margin keeps just-enough hashrate out", 1_100, 0, 0, LevelNone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base()
			in.Hashrate, in.Avg1h, in.Avg24h = tc.hashrate, tc.avg1h, tc.avg24h
			d := Decide(in)
			assert.False(t, d.Safe)
			assert.Equal(t, tc.target, d.Target)
			assert.Equal(t, tc.xvb, d.XvbTime)
			assert.Equal(t, in.Period-tc.xvb, d.P2poolTime(in.Period))
		})
	}
}

func TestDecideManualModes(t *testing.T) {
	in := base()
	in.Hashrate = 10_000

	in.Mode = ModeHero
	assert.Equal(t, in.Period, Decide(in).XvbTime)
	assert.Zero(t, Decide(in).P2poolTime(in.Period))

	in.Mode, in.Amount = ModeManualXvb, 5_000
	assert.Equal(t, 300*time.Second, Decide(in).XvbTime)

	in.Mode, in.Amount = ModeManualP2pool, 2_500
	assert.Equal(t, 450*time.Second, Decide(in).XvbTime)

	in.Mode, in.Amount = ModeManualXvb, 50_000
	assert.Equal(t, in.Period, Decide(in).XvbTime, "capped at the period")

	in.Mode, in.Level = ModeManualDonationLevel, LevelDonorWhale
	d := Decide(in)
	assert.Equal(t, LevelDonorWhale, d.Target)
	assert.Equal(t, in.Period, d.XvbTime)

	in.Level = LevelDonor
	assert.Equal(t, 69*time.Second, Decide(in).XvbTime)
}

func TestDecideSafeDefault(t *testing.T) {
	mods := map[string]func(*Inputs){
		"private failed": func(in *Inputs) { in.PrivateFailed = true },
		"nodes offline":  func(in *Inputs) { in.NodesOffline = true },
		"no share":       func(in *Inputs) { in.ShareInWindow = false },
		"no hashrate":    func(in *Inputs) { in.Hashrate = 0 },
	}
	for name, mod := range mods {
		t.Run(name, func(t *testing.T) {
			for _, m := range []Mode{ModeAuto, ModeHero, ModeManualXvb} {
				in := base()
				in.Mode, in.Amount = m, 1_000
				mod(&in)
				d := Decide(in)
				assert.True(t, d.Safe, "mode %s", m)
				assert.Zero(t, d.XvbTime)
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestRound(t *testing.T) {
	tiers := DefaultTiers
	assert.Equal(t, LevelNone, tiers.Round(999, 5_000))
	assert.Equal(t, LevelDonor, tiers.Round(5_000, 5_000))
	assert.Equal(t, LevelDonorVIP, tiers.Round(50_000, 10_000))
	assert.Equal(t, LevelDonorMega, tiers.Round(2e6, 2e6))
}

func TestParseModeAndLevel(t *testing.T) {
	m, err := ParseMode("Hero")
	require.NoError(t, err)
	assert.Equal(t, ModeHero, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)
	_, err = ParseMode("turbo")
	assert.Error(t, err)

	l, err := ParseLevel("whale")
	require.NoError(t, err)
	assert.Equal(t, LevelDonorWhale, l)
	assert.Equal(t, "donor_whale", l.String())
	_, err = ParseLevel("legend")
	assert.Error(t, err)
}
