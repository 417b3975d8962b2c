package rigwatch

import (
	"context"
	"net/http"

	cfg "github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/manager"
	"github.com/loykin/rigwatch/internal/metrics"
	"github.com/loykin/rigwatch/internal/process"
	iapi "github.com/loykin/rigwatch/internal/server"
	"github.com/loykin/rigwatch/internal/xvb"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Kind = process.Kind

type State = process.State

type Snapshot = manager.Snapshot

type HistorySink = history.Sink

type XvbMode = xvb.Mode

type XvbLevel = xvb.Level

const (
	Node   = process.KindNode
	P2Pool = process.KindP2Pool
	Xmrig  = process.KindXmrig
	Proxy  = process.KindProxy
	Xvb    = process.KindXvb
)

// Rig is a thin facade over internal/manager.Registry for embedding.
type Rig struct{ inner *manager.Registry }

// New builds a rig from c. sink may be nil.
func New(c *Config, sink HistorySink) (*Rig, error) {
	r, err := manager.New(c, manager.Options{History: sink})
	if err != nil {
		return nil, err
	}
	return &Rig{inner: r}, nil
}

func (r *Rig) Start(k Kind, secret []byte) error   { return r.inner.Start(k, secret) }
func (r *Rig) Restart(k Kind, secret []byte) error { return r.inner.Restart(k, secret) }
func (r *Rig) Stop(k Kind, secret []byte) error    { return r.inner.Stop(k, secret) }
func (r *Rig) Input(k Kind, line string) error     { return r.inner.Input(k, line) }
func (r *Rig) Snapshot(k Kind) (Snapshot, error)   { return r.inner.Snapshot(k) }
func (r *Rig) Snapshots() []Snapshot               { return r.inner.Snapshots() }
func (r *Rig) Run(ctx context.Context) error       { return r.inner.Run(ctx) }
func (r *Rig) Shutdown(ctx context.Context) error  { return r.inner.Shutdown(ctx) }
func (r *Rig) SetXvbRuntime(mode XvbMode, amount float64, level XvbLevel) error {
	return r.inner.SetXvbRuntime(mode, amount, level)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer returns the control API server for r. It is not started.
func NewHTTPServer(addr, basePath string, r *Rig) *http.Server {
	return iapi.NewServer(addr, basePath, r.inner, false)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
