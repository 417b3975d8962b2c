package watchdog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/matcher"
	"github.com/loykin/rigwatch/internal/metrics"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/pty"
	"github.com/loykin/rigwatch/internal/stats"
	"github.com/loykin/rigwatch/internal/sudo"
)

// Cadence is the target length of one loop iteration.
const Cadence = 900 * time.Millisecond

// KillWait bounds how long a killed child may take to be reaped.
const KillWait = 10 * time.Second

const rule = "--------------------------------------------------------------------------------"

// Driver supplies the kind-specific parts of a child-backed worker: how to
// spawn it and how to read its status endpoint.
type Driver interface {
	Kind() process.Kind
	Command() pty.Spec
	// Elevated reports whether the child must run under the elevation helper.
	Elevated() bool
	// InitialState is the state right after a successful spawn.
	InitialState() process.State
	// Reset replaces the public snapshot with a fresh one.
	Reset()
	SetUptime(d time.Duration)
	// Poll requests the status endpoint and rebuilds the public snapshot.
	// On error the previous snapshot is kept.
	Poll(ctx context.Context, client *http.Client) error
	Public() any
	Hashrate() float64
}

// Options carries the collaborators shared by every watchdog.
type Options struct {
	Logger   *slog.Logger
	Client   *http.Client
	Broker   *sudo.Broker // required when the driver is elevated
	History  history.Sink
	// Output, when set, receives a copy of every captured line.
	Output   io.Writer
	Cadence  time.Duration
	KillWait time.Duration
	Env      []string // full child environment; nil inherits the daemon's
	// Kill terminates the child for Stop and Restart; nil uses Child.Kill.
	Kill     func(*pty.Child) error
}

// Watchdog runs one worker's control loop. It is the only writer of the
// process record's state and buffers while it runs.
type Watchdog struct {
	proc *process.Process
	drv  Driver
	m    matcher.Matcher
	opts Options
	log  *slog.Logger

	mu        sync.RWMutex
	resources stats.Resources
}

func New(p *process.Process, d Driver, opts Options) *Watchdog {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Cadence <= 0 {
		opts.Cadence = Cadence
	}
	if opts.KillWait <= 0 {
		opts.KillWait = KillWait
	}
	if opts.Kill == nil {
		opts.Kill = (*pty.Child).Kill
	}
	return &Watchdog{proc: p, drv: d, m: matcher.For(d.Kind()), opts: opts, log: opts.Logger}
}

// Resources returns the latest resource sample of the child.
func (w *Watchdog) Resources() stats.Resources {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.resources
}

// Run spawns the child and loops until it exits or a Stop/Restart signal is
// observed. The caller must have claimed the process record. Run always
// releases it before returning.
func (w *Watchdog) Run(ctx context.Context) {
	kind := w.drv.Kind()

	runID := uuid.NewString()
	w.log = w.opts.Logger.With("worker", string(kind), "run", runID)

	child, err := w.spawn(ctx)
	if err != nil {
		w.log.Error("spawn failed", "error", err)
		w.proc.Output().AppendDisplay(fmt.Sprintf("%s failed to start: %v\n", kind.Title(), err))
		w.exit(process.StateFailed, history.EventStop, err.Error())
		return
	}
	defer func() { _ = child.Close() }()

	start := time.Now()
	w.proc.MarkStarted(child.Pid(), runID, start)
	w.setState(w.drv.InitialState())
	w.proc.ClearStartSignal()
	metrics.IncStart(string(kind))
	w.record(history.EventStart, w.drv.InitialState(), "")
	w.log.Info("worker started", "pid", child.Pid(), "elevated", w.drv.Elevated())

	for {
		begin := time.Now()
		uptime := time.Since(start)

		// 1. exit check
		if st, done := child.TryWait(); done {
			w.finish(st, uptime, false, false)
			return
		}

		// 2. control signal
		sig := w.proc.Signal()
		if ctx.Err() != nil {
			sig = process.SignalStop
		}
		if sig == process.SignalStop || sig == process.SignalRestart {
			w.terminate(ctx, child, sig, uptime)
			return
		}

		// 3. stdin
		for _, line := range w.proc.TakeInput() {
			if err := child.WriteLine(line); err != nil {
				w.log.Warn("stdin write failed", "error", err)
				break
			}
		}

		// 4. display ceiling
		if w.proc.Output().ResetDisplayIfOver(process.MaxDisplayBytes, resetNotice(kind)) {
			w.log.Debug("display buffer reset")
		}

		// 5. output markers
		prev := w.proc.State()
		if s, ok := stats.UpdateFromOutput(w.proc, w.m); ok && s != prev {
			w.transitioned(prev, s)
		}
		w.drv.SetUptime(uptime)

		// 6. status endpoint
		if err := w.drv.Poll(ctx, w.opts.Client); err != nil {
			metrics.IncPollFailure(string(kind))
			w.log.Debug("status request failed", "error", err)
		} else {
			metrics.SetHashrate(string(kind), w.drv.Hashrate())
		}
		w.sample(ctx, child.Pid())

		// 7. pace
		if rest := w.opts.Cadence - time.Since(begin); rest > 0 {
			t := time.NewTimer(rest)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
}

func (w *Watchdog) spawn(ctx context.Context) (*pty.Child, error) {
	spec := w.drv.Command()
	if spec.Path == "" {
		return nil, fmt.Errorf("%s: no binary path configured", w.drv.Kind())
	}
	spec.Env = w.opts.Env
	elevated := w.drv.Elevated() && w.opts.Broker != nil
	if elevated {
		argv := sudo.ElevatedArgs(w.opts.Broker.Tool, spec.Path, spec.Args)
		spec.Path, spec.Args, spec.Elevated = argv[0], argv[1:], true
	}
	w.drv.Reset()
	w.proc.Output().ClearDisplay()
	_ = w.proc.Output().TakeParse()

	child, err := pty.Start(spec, w.sink())
	if err != nil {
		if elevated {
			w.opts.Broker.Secret.Wipe()
		}
		return nil, err
	}
	if elevated {
		if err := w.opts.Broker.Feed(ctx, child.Stdin()); err != nil {
			w.log.Warn("elevation secret not delivered", "error", err)
		}
		// drop whatever the helper printed before the child took over
		w.proc.Output().ClearDisplay()
		_ = w.proc.Output().TakeParse()
	}
	return child, nil
}

// terminate kills the child for a Stop or Restart signal and ends the run.
func (w *Watchdog) terminate(ctx context.Context, child *pty.Child, sig process.Signal, uptime time.Duration) {
	restart := sig == process.SignalRestart
	w.log.Info("terminating worker", "signal", sig.String())

	var err error
	if w.drv.Elevated() && w.opts.Broker != nil && sudo.NeedsElevatedKill() {
		err = w.opts.Broker.Kill(context.WithoutCancel(ctx), child.Pid(), restart)
		if err != nil {
			w.log.Warn("elevated kill failed, falling back to direct kill", "error", err)
			err = w.opts.Kill(child)
		}
	} else {
		err = w.opts.Kill(child)
	}
	if err != nil {
		w.log.Error("kill failed", "error", err)
	}
	st, ok := child.Wait(w.opts.KillWait)
	if !ok {
		w.abandon(child.Pid(), uptime)
		return
	}
	w.finish(st, uptime, true, restart)
}

// abandon ends a run whose child outlived the kill. The record goes to
// Failed so a pending restart is dropped.
func (w *Watchdog) abandon(pid int, uptime time.Duration) {
	kind := w.drv.Kind()
	w.log.Error("worker did not exit after kill", "pid", pid, "wait", w.opts.KillWait)
	status := fmt.Sprintf("still running as pid %d after kill", pid)
	w.proc.Output().AppendDisplay(summary(kind, uptime, status))
	metrics.IncStop(string(kind), process.StateFailed.String())
	w.wipeSecret()
	w.exit(process.StateFailed, history.EventStop, status)
}

// wipeSecret drops a secret left for a kill or restart that did not use it.
func (w *Watchdog) wipeSecret() {
	if w.drv.Elevated() && w.opts.Broker != nil {
		w.opts.Broker.Secret.Wipe()
	}
}

// finish classifies the exit, writes the summary line and releases the
// record. killed marks a child we terminated ourselves, whose signal death
// counts as a clean stop. A restart leaves the record in Waiting.
func (w *Watchdog) finish(st pty.ExitStatus, uptime time.Duration, killed, restart bool) {
	kind := w.drv.Kind()
	state := process.StateFailed
	if st.Success() || (killed && st.Signaled) {
		state = process.StateDead
	}
	status := st.String()
	if killed && st.Signaled {
		status = "Successful"
	}
	w.proc.Output().AppendDisplay(summary(kind, uptime, status))
	metrics.IncStop(string(kind), state.String())
	w.log.Info("worker stopped", "state", state.String(), "exit_code", st.Code, "signaled", st.Signaled, "uptime", uptime.Round(time.Second))

	if restart {
		metrics.IncRestart(string(kind))
		w.exit(process.StateWaiting, history.EventRestart, status)
		return
	}
	w.wipeSecret()
	w.exit(state, history.EventStop, status)
}

func (w *Watchdog) exit(s process.State, evt history.EventType, detail string) {
	prev := w.proc.State()
	w.record(evt, s, detail)
	w.proc.Exit(s)
	if prev != s {
		metrics.RecordTransition(string(w.drv.Kind()), prev.String(), s.String())
	}
}

// setState applies s unless a Stop or Restart already put the record in Middle.
func (w *Watchdog) setState(s process.State) {
	prev := w.proc.State()
	if w.proc.Advance(s) && prev != s {
		w.transitioned(prev, s)
	}
}

func (w *Watchdog) transitioned(from, to process.State) {
	metrics.RecordTransition(string(w.drv.Kind()), from.String(), to.String())
	w.log.Debug("state changed", "from", from.String(), "to", to.String())
	w.record(history.EventState, to, from.String()+" -> "+to.String())
}

func (w *Watchdog) record(t history.EventType, s process.State, detail string) {
	if w.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Worker: string(w.drv.Kind()),
			RunID:  w.proc.RunID(),
			PID:    w.proc.PID(),
			State:  s.String(),
			Detail: detail,
		},
	}
	if err := w.opts.History.Send(ctx, evt); err != nil {
		w.log.Warn("history send failed", "event", string(t), "error", err)
	}
}

func (w *Watchdog) sample(ctx context.Context, pid int) {
	r, ok := stats.SampleResources(ctx, pid)
	if !ok {
		return
	}
	w.mu.Lock()
	w.resources = r
	w.mu.Unlock()
	metrics.SetResources(string(w.drv.Kind()), r.CPUPercent, r.RSS)
}

func (w *Watchdog) sink() pty.LineSink {
	if w.opts.Output == nil {
		return w.proc.Output()
	}
	return teeSink{out: w.proc.Output(), w: w.opts.Output}
}

type teeSink struct {
	out *process.Output
	w   io.Writer
}

func (t teeSink) WriteLine(line string) {
	t.out.WriteLine(line)
	_, _ = io.WriteString(t.w, line+"\n")
}

func summary(kind process.Kind, uptime time.Duration, status string) string {
	var b strings.Builder
	b.WriteString("\n" + rule + "\n")
	fmt.Fprintf(&b, "%s stopped | Uptime: [%s] | Exit status: [%s]\n", kind.Title(), stats.Uptime(uptime), status)
	b.WriteString(rule + "\n")
	return b.String()
}

func resetNotice(kind process.Kind) string {
	return fmt.Sprintf("%s output reset after reaching %d bytes\n", kind.Title(), process.MaxDisplayBytes)
}
