package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/env"
	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/pty"
	"github.com/loykin/rigwatch/internal/stats"
	"github.com/loykin/rigwatch/internal/sudo"
	"github.com/loykin/rigwatch/internal/watchdog"
	"github.com/loykin/rigwatch/internal/xvb"
)

var ErrNotRunning = errors.New("worker not running")

// Options carries the collaborators of a Registry. Zero values are replaced
// with working defaults.
type Options struct {
	Logger  *slog.Logger
	History history.Sink
	Client  *http.Client
	Cadence time.Duration
	// Obtain re-supplies the elevation secret for an elevated kill after the
	// one given at start was consumed.
	Obtain func(ctx context.Context) ([]byte, error)
	// Drivers replaces the drivers built from the configuration.
	Drivers map[process.Kind]watchdog.Driver
}

// Registry owns the control record of every worker. All control goes
// through it; nothing is global.
type Registry struct {
	cfg    *config.Config
	opts   Options
	log    *slog.Logger
	env    *env.Env
	broker *sudo.Broker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[process.Kind]*entry

	// replaced in tests
	elevatedKill func() bool
	killChild    func(*pty.Child) error
}

type entry struct {
	proc *process.Process
	drv  watchdog.Driver // nil for xvb
	out  io.WriteCloser

	wd         *watchdog.Watchdog
	xvb        *xvb.Worker
	restarting bool
}

// Snapshot is the presentation view of one worker.
type Snapshot struct {
	process.Status
	Stats     any             `json:"stats"`
	Resources stats.Resources `json:"resources"`
}

func New(cfg *config.Config, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	genv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("global env: %w", err)
	}
	broker := sudo.NewBroker(nil, opts.Logger)
	broker.Obtain = opts.Obtain
	if broker.Obtain == nil {
		broker.Obtain = noObtain
	}

	r := &Registry{
		cfg:     cfg,
		opts:    opts,
		log:     opts.Logger,
		env:     env.New(genv),
		broker:  broker,
		entries: make(map[process.Kind]*entry, len(process.Kinds)),

		elevatedKill: sudo.NeedsElevatedKill,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	drivers := map[process.Kind]watchdog.Driver{
		process.KindNode:   watchdog.NewNode(cfg.Node),
		process.KindP2Pool: watchdog.NewP2pool(cfg.P2pool),
		process.KindXmrig:  watchdog.NewXmrig(cfg.Xmrig),
		process.KindProxy:  watchdog.NewProxy(cfg.Proxy),
	}
	for k, d := range opts.Drivers {
		drivers[k] = d
	}
	for _, k := range process.Kinds {
		e := &entry{proc: process.New(k), drv: drivers[k]}
		if w := cfg.Log.File.WorkerWriter(string(k)); w != nil {
			e.out = w
		}
		r.entries[k] = e
	}
	return r, nil
}

// ErrStopSecret is what the default Obtain returns.
var ErrStopSecret = errors.New("elevated kill needs the elevation secret with the stop request")

func noObtain(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("%w: %w", ErrStopSecret, sudo.ErrNoSecret)
}

func (r *Registry) entry(kind process.Kind) (*entry, error) {
	e, ok := r.entries[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", process.ErrUnknownKind, kind)
	}
	return e, nil
}

// Start claims the worker and launches its watchdog. It does not block.
// For an elevated worker secret is copied into the broker and the caller's
// buffer is zeroed.
func (r *Registry) Start(kind process.Kind, secret []byte) error {
	defer clear(secret)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(kind)
	if err != nil {
		return err
	}
	if err := r.launchable(e); err != nil {
		return err
	}
	if err := r.takeSecret(e, secret); err != nil {
		return err
	}
	if err := r.startLocked(e); err != nil {
		r.dropSecret(e)
		return err
	}
	return nil
}

// launchable rejects a start before any secret is taken. Claims only happen
// under r.mu, so a record that is free here is still free in startLocked.
func (r *Registry) launchable(e *entry) error {
	if r.ctx.Err() != nil {
		return context.Canceled
	}
	if e.restarting || e.proc.Running() {
		return process.ErrAlreadyRunning
	}
	return nil
}

func (r *Registry) takeSecret(e *entry, secret []byte) error {
	if e.drv == nil || !e.drv.Elevated() {
		return nil
	}
	if len(secret) > 0 {
		r.broker.Secret.Set(secret)
	}
	if r.broker.Secret.Empty() {
		return fmt.Errorf("%s: %w", e.proc.Kind(), sudo.ErrNoSecret)
	}
	return nil
}

func (r *Registry) startLocked(e *entry) error {
	if r.ctx.Err() != nil {
		return context.Canceled
	}
	if err := e.proc.Claim(); err != nil {
		return err
	}
	kind := e.proc.Kind()
	r.log.Info("starting worker", "worker", string(kind))

	var run func(ctx context.Context)
	if kind == process.KindXvb {
		w, err := r.newXvb(e.proc)
		if err != nil {
			e.proc.Exit(process.StateFailed)
			return err
		}
		e.xvb, e.wd = w, nil
		run = w.Run
	} else {
		if e.drv == nil {
			e.proc.Exit(process.StateFailed)
			return fmt.Errorf("%s: no driver", kind)
		}
		wd := watchdog.New(e.proc, e.drv, watchdog.Options{
			Logger:  r.log,
			Client:  r.opts.Client,
			Broker:  r.broker,
			History: r.opts.History,
			Output:  e.out,
			Cadence: r.opts.Cadence,
			Env:     r.env.Merge(r.workerEnv(kind)),
			Kill:    r.killChild,
		})
		e.wd = wd
		run = wd.Run
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		run(r.ctx)
	}()
	return nil
}

func (r *Registry) workerEnv(kind process.Kind) []string {
	switch kind {
	case process.KindNode:
		return r.cfg.Node.Env
	case process.KindP2Pool:
		return r.cfg.P2pool.Env
	case process.KindXmrig:
		return r.cfg.Xmrig.Env
	case process.KindProxy:
		return r.cfg.Proxy.Env
	}
	return nil
}

// Stop asks the worker to terminate. It is a no-op when no watchdog owns the
// worker (dead, failed or never started). secret is kept only when the
// worker's elevated child has to be killed through the helper; the kill
// consumes it.
func (r *Registry) Stop(kind process.Kind, secret []byte) error {
	defer clear(secret)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(kind)
	if err != nil {
		return err
	}
	held := len(secret) > 0 && e.drv != nil && e.drv.Elevated() && r.elevatedKill() &&
		!e.restarting && e.proc.Running()
	if held {
		r.broker.Secret.Set(secret)
	}
	if !e.proc.RequestStop() {
		if held {
			r.broker.Secret.Wipe()
		}
		r.log.Debug("stop ignored, worker not running", "worker", string(kind))
	}
	return nil
}

// Restart stops the worker and starts it again once its watchdog reached
// Waiting. A worker that is not running is started directly.
func (r *Registry) Restart(kind process.Kind, secret []byte) error {
	defer clear(secret)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(kind)
	if err != nil {
		return err
	}
	if e.restarting {
		return nil
	}
	if r.ctx.Err() != nil {
		return context.Canceled
	}
	if err := r.takeSecret(e, secret); err != nil {
		return err
	}
	waiting, ok := e.proc.RequestRestart()
	if !ok {
		if err := r.startLocked(e); err != nil {
			r.dropSecret(e)
			return err
		}
		return nil
	}
	e.restarting = true
	r.wg.Add(1)
	go r.supervise(e, waiting)
	return nil
}

// Input queues a stdin line for the worker's child.
func (r *Registry) Input(kind process.Kind, line string) error {
	e, err := r.entry(kind)
	if err != nil {
		return err
	}
	if kind == process.KindXvb || !e.proc.Running() {
		return fmt.Errorf("%s: %w", kind, ErrNotRunning)
	}
	e.proc.QueueInput(line)
	return nil
}

func (r *Registry) Snapshot(kind process.Kind) (Snapshot, error) {
	e, err := r.entry(kind)
	if err != nil {
		return Snapshot{}, err
	}
	r.mu.Lock()
	wd, xw := e.wd, e.xvb
	r.mu.Unlock()

	s := Snapshot{Status: e.proc.Snapshot()}
	switch {
	case kind == process.KindXvb && xw != nil:
		s.Stats = xw.Public()
	case e.drv != nil:
		s.Stats = e.drv.Public()
	}
	if wd != nil && s.Running {
		s.Resources = wd.Resources()
	}
	return s, nil
}

// Snapshots returns every worker in start order.
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(process.Kinds))
	for _, k := range process.Kinds {
		s, err := r.Snapshot(k)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SetXvbRuntime changes the distribution mode of a running XvB worker from
// its next decision on.
func (r *Registry) SetXvbRuntime(mode xvb.Mode, amount float64, level xvb.Level) error {
	r.mu.Lock()
	w := r.entries[process.KindXvb].xvb
	r.mu.Unlock()
	if w == nil || !r.entries[process.KindXvb].proc.Running() {
		return fmt.Errorf("%s: %w", process.KindXvb, ErrNotRunning)
	}
	w.SetRuntime(mode, amount, level)
	return nil
}

// Autostart starts every worker marked autostart in the configuration.
// Failures are logged; a worker needing a secret is skipped without one.
func (r *Registry) Autostart() {
	auto := map[process.Kind]bool{
		process.KindNode:   r.cfg.Node.Autostart,
		process.KindP2Pool: r.cfg.P2pool.Autostart,
		process.KindXmrig:  r.cfg.Xmrig.Autostart,
		process.KindProxy:  r.cfg.Proxy.Autostart,
		process.KindXvb:    r.cfg.Xvb.Autostart,
	}
	for _, k := range process.Kinds {
		if !auto[k] {
			continue
		}
		if err := r.Start(k, nil); err != nil {
			r.log.Warn("autostart failed", "worker", string(k), "error", err)
		}
	}
}

// Run autostarts the configured workers and blocks until ctx ends, then
// stops every worker.
func (r *Registry) Run(ctx context.Context) error {
	r.Autostart()
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Shutdown(sctx)
}

// Shutdown stops every worker and waits for their watchdogs, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	r.broker.Secret.Wipe()
	for _, e := range r.entries {
		if e.out != nil {
			_ = e.out.Close()
		}
	}
	return err
}
