package watchdog

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/pty"
	"github.com/loykin/rigwatch/internal/stats"
)

func hostPort(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func argsOr(override, built []string) []string {
	if len(override) > 0 {
		return append([]string(nil), override...)
	}
	return built
}

// Node drives the monerod blockchain node.
type Node struct {
	cfg    config.NodeConfig
	public *stats.Cell[stats.Node]
}

func NewNode(cfg config.NodeConfig) *Node {
	return &Node{cfg: cfg, public: stats.NewCell(stats.NewNode())}
}

func (n *Node) Kind() process.Kind { return process.KindNode }
func (n *Node) Elevated() bool { return false }
func (n *Node) InitialState() process.State { return process.StateSyncing }
func (n *Node) Reset() { n.public.Store(stats.NewNode()) }
func (n *Node) Public() any { return n.public.Load() }
func (n *Node) Hashrate() float64 { return 0 }
func (n *Node) SetUptime(d time.Duration) { n.public.Update(func(s *stats.Node) { s.Uptime = d }) }
func (n *Node) Snapshot() stats.Node { return n.public.Load() }
func (n *Node) Command() pty.Spec { return pty.Spec{Path: n.cfg.Path, Dir: n.cfg.Dir, Args: NodeArgs(n.cfg)} }

func (n *Node) Poll(ctx context.Context, client *http.Client) error {
	ep := stats.Endpoint{URI: "http://" + hostPort(n.cfg.RPCBind, n.cfg.RPCPort) + "/get_info"}
	info, err := stats.Request[stats.NodeInfo](ctx, client, ep)
	if err != nil {
		return err
	}
	n.public.Update(func(s *stats.Node) { s.UpdateFromPriv(info) })
	return nil
}

// NodeArgs builds the monerod command line.
func NodeArgs(c config.NodeConfig) []string {
	args := []string{
		"--zmq-pub", "tcp://" + hostPort(c.RPCBind, c.ZMQPort),
		"--rpc-bind-ip", c.RPCBind,
		"--rpc-bind-port", strconv.Itoa(c.RPCPort),
		"--out-peers", strconv.Itoa(c.OutPeers),
		"--in-peers", strconv.Itoa(c.InPeers),
		"--log-level", strconv.Itoa(c.LogLevel),
	}
	if c.DataDir != "" {
		args = append(args, "--data-dir", c.DataDir)
	}
	if c.Prune {
		args = append(args, "--prune-blockchain", "--sync-pruned-blocks")
	}
	return argsOr(c.Args, args)
}

// P2pool drives the P2Pool coordinator.
type P2pool struct {
	cfg    config.P2poolConfig
	public *stats.Cell[stats.P2pool]
}

func NewP2pool(cfg config.P2poolConfig) *P2pool {
	return &P2pool{cfg: cfg, public: stats.NewCell(stats.NewP2pool())}
}

func (p *P2pool) Kind() process.Kind { return process.KindP2Pool }
func (p *P2pool) Elevated() bool { return false }
func (p *P2pool) InitialState() process.State { return process.StateSyncing }
func (p *P2pool) Reset() { p.public.Store(stats.NewP2pool()) }
func (p *P2pool) Public() any { return p.public.Load() }
func (p *P2pool) Snapshot() stats.P2pool { return p.public.Load() }
func (p *P2pool) Hashrate() float64 { return p.public.Load().HashrateRaw }
func (p *P2pool) SetUptime(d time.Duration) { p.public.Update(func(s *stats.P2pool) { s.Uptime = d }) }
func (p *P2pool) Command() pty.Spec { return pty.Spec{Path: p.cfg.Path, Dir: p.cfg.Dir, Args: P2poolArgs(p.cfg)} }

func (p *P2pool) Poll(ctx context.Context, client *http.Client) error {
	ep := stats.Endpoint{URI: "http://" + hostPort("127.0.0.1", p.cfg.StratumPort) + "/local/stratum"}
	s, err := stats.Request[stats.P2poolStratum](ctx, client, ep)
	if err != nil {
		return err
	}
	p.public.Update(func(pub *stats.P2pool) { pub.UpdateFromPriv(s) })
	return nil
}

// P2poolArgs builds the P2Pool command line.
func P2poolArgs(c config.P2poolConfig) []string {
	args := []string{
		"--wallet", c.Wallet,
		"--host", c.NodeHost,
		"--rpc-port", strconv.Itoa(c.RPCPort),
		"--zmq-port", strconv.Itoa(c.ZMQPort),
		"--stratum", "0.0.0.0:" + strconv.Itoa(c.StratumPort),
		"--out-peers", strconv.Itoa(c.OutPeers),
		"--in-peers", strconv.Itoa(c.InPeers),
		"--loglevel", strconv.Itoa(c.LogLevel),
		"--no-color",
	}
	if c.Mini {
		args = append(args, "--mini")
	}
	return argsOr(c.Args, args)
}

// Xmrig drives the XMRig hashing engine.
type Xmrig struct {
	cfg    config.XmrigConfig
	public *stats.Cell[stats.Xmrig]
}

func NewXmrig(cfg config.XmrigConfig) *Xmrig {
	return &Xmrig{cfg: cfg, public: stats.NewCell(stats.NewXmrig())}
}

func (x *Xmrig) Kind() process.Kind { return process.KindXmrig }
func (x *Xmrig) InitialState() process.State { return process.StateNotMining }
func (x *Xmrig) Reset() { x.public.Store(stats.NewXmrig()) }
func (x *Xmrig) Public() any { return x.public.Load() }
func (x *Xmrig) Snapshot() stats.Xmrig { return x.public.Load() }
func (x *Xmrig) Hashrate() float64 { return x.public.Load().HashrateRaw }
func (x *Xmrig) SetUptime(d time.Duration) { x.public.Update(func(s *stats.Xmrig) { s.Uptime = d }) }
func (x *Xmrig) Command() pty.Spec { return pty.Spec{Path: x.cfg.Path, Dir: x.cfg.Dir, Args: XmrigArgs(x.cfg)} }

// Elevated is true for the sudo setting on every platform but Windows.
func (x *Xmrig) Elevated() bool { return x.cfg.Sudo && runtime.GOOS != "windows" }

// API returns the base URL and token of the XMRig HTTP API.
func (x *Xmrig) API() (string, string) {
	return "http://" + hostPort(x.cfg.APIHost, x.cfg.APIPort), x.cfg.APIToken
}

func (x *Xmrig) Poll(ctx context.Context, client *http.Client) error {
	base, token := x.API()
	s, err := stats.Request[stats.XmrigSummary](ctx, client, stats.Endpoint{URI: base + "/1/summary", Token: token})
	if err != nil {
		return err
	}
	x.public.Update(func(pub *stats.Xmrig) { pub.UpdateFromPriv(s) })
	return nil
}

// XmrigArgs builds the XMRig command line.
func XmrigArgs(c config.XmrigConfig) []string {
	args := []string{"--url", c.Pool}
	if c.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(c.Threads))
	}
	if c.RigID != "" {
		args = append(args, "--rig-id", c.RigID)
	}
	args = append(args,
		"--http-host", c.APIHost,
		"--http-port", strconv.Itoa(c.APIPort),
		"--http-no-restricted",
		"--no-color",
	)
	if c.APIToken != "" {
		args = append(args, "--http-access-token", c.APIToken)
	}
	return argsOr(c.Args, args)
}

// Proxy drives XMRig-Proxy.
type Proxy struct {
	cfg    config.ProxyConfig
	public *stats.Cell[stats.Proxy]
}

func NewProxy(cfg config.ProxyConfig) *Proxy {
	return &Proxy{cfg: cfg, public: stats.NewCell(stats.NewProxy())}
}

func (p *Proxy) Kind() process.Kind { return process.KindProxy }
func (p *Proxy) Elevated() bool { return false }
func (p *Proxy) InitialState() process.State { return process.StateNotMining }
func (p *Proxy) Reset() { p.public.Store(stats.NewProxy()) }
func (p *Proxy) Public() any { return p.public.Load() }
func (p *Proxy) Snapshot() stats.Proxy { return p.public.Load() }
func (p *Proxy) Hashrate() float64 { return p.public.Load().HashrateRaw }
func (p *Proxy) SetUptime(d time.Duration) { p.public.Update(func(s *stats.Proxy) { s.Uptime = d }) }
func (p *Proxy) Command() pty.Spec { return pty.Spec{Path: p.cfg.Path, Dir: p.cfg.Dir, Args: ProxyArgs(p.cfg)} }

// API returns the base URL and token of the XMRig-Proxy HTTP API.
func (p *Proxy) API() (string, string) {
	return "http://" + hostPort(p.cfg.APIHost, p.cfg.APIPort), p.cfg.APIToken
}

func (p *Proxy) Poll(ctx context.Context, client *http.Client) error {
	base, token := p.API()
	s, err := stats.Request[stats.ProxySummary](ctx, client, stats.Endpoint{URI: base + "/1/summary", Token: token})
	if err != nil {
		return err
	}
	p.public.Update(func(pub *stats.Proxy) { pub.UpdateFromPriv(s) })
	return nil
}

// ProxyArgs builds the XMRig-Proxy command line.
func ProxyArgs(c config.ProxyConfig) []string {
	args := []string{
		"--url", c.Pool,
		"--bind", "0.0.0.0:" + strconv.Itoa(c.BindPort),
		"--http-host", c.APIHost,
		"--http-port", strconv.Itoa(c.APIPort),
		"--http-no-restricted",
		"--no-color",
	}
	if c.APIToken != "" {
		args = append(args, "--http-access-token", c.APIToken)
	}
	return argsOr(c.Args, args)
}
