package manager

import (
	"net"
	"strconv"

	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/watchdog"
	"github.com/loykin/rigwatch/internal/xvb"
)

// XvbSettings converts the [xvb] section into worker settings. P2Pool's
// local stratum is the fallback pool unless p2pool_pool overrides it.
func XvbSettings(cfg *config.Config) (xvb.Settings, error) {
	c := cfg.Xvb
	mode, err := xvb.ParseMode(c.Mode)
	if err != nil {
		return xvb.Settings{}, err
	}
	level, err := xvb.ParseLevel(c.Level)
	if err != nil {
		return xvb.Settings{}, err
	}
	pool := c.P2poolPool
	if pool == "" {
		pool = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.P2pool.StratumPort))
	}
	user := cfg.Xmrig.RigID
	if user == "" {
		user = "x"
	}
	return xvb.Settings{
		Address:     c.Address,
		Mode:        mode,
		Amount:      c.Amount,
		Level:       level,
		Tiers:       xvb.Tiers{Donor: c.Tiers.Donor, VIP: c.Tiers.VIP, Whale: c.Tiers.Whale, Mega: c.Tiers.Mega},
		Margin:      c.Margin,
		Period:      c.Period,
		Nodes:       c.Nodes,
		NodeTimeout: c.NodeTimeout,
		P2pool:      xvb.Target{URL: pool, User: user},
	}, nil
}

func (r *Registry) newXvb(p *process.Process) (*xvb.Worker, error) {
	set, err := XvbSettings(r.cfg)
	if err != nil {
		return nil, err
	}
	c := xvb.NewClient(r.cfg.Xvb.Address, r.cfg.Xvb.Token)
	if r.cfg.Xvb.PublicURL != "" {
		c.PublicURL = r.cfg.Xvb.PublicURL
	}
	if r.cfg.Xvb.PrivateURL != "" {
		c.PrivateURL = r.cfg.Xvb.PrivateURL
	}
	src := xvb.Sources{Engine: r.engine, ShareInWindow: r.shareInWindow}
	return xvb.NewWorker(p, c, set, src, r.log, r.opts.History), nil
}

type apiDriver interface {
	API() (base, token string)
}

// engine returns the hashing engine XvB should steer: the proxy when it runs,
// XMRig otherwise.
func (r *Registry) engine() (xvb.Engine, bool) {
	for _, k := range []process.Kind{process.KindProxy, process.KindXmrig} {
		e := r.entries[k]
		if e.drv == nil || !e.proc.Running() {
			continue
		}
		eng := xvb.Engine{Kind: k, Hashrate: e.drv.Hashrate()}
		if a, ok := e.drv.(apiDriver); ok {
			base, token := a.API()
			eng.Switcher = &xvb.APISwitcher{Base: base, Token: token, Client: r.opts.Client}
		}
		return eng, true
	}
	return xvb.Engine{}, false
}

func (r *Registry) shareInWindow() bool {
	e := r.entries[process.KindP2Pool]
	d, ok := e.drv.(*watchdog.P2pool)
	if !ok || !e.proc.Running() {
		return false
	}
	return d.Snapshot().ShareInWindow
}
