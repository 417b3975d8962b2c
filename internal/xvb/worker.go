package xvb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/metrics"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/stats"
)

const (
	DefaultCadence        = time.Second
	DefaultPeriod         = 600 * time.Second
	DefaultPublicInterval = 30 * time.Second
	DefaultRetry          = 30 * time.Second
)

// Settings configures one XvB run. Mode, Amount and Level can be changed at
// runtime with SetRuntime; the rest is read at start.
type Settings struct {
	Address     string
	Mode        Mode
	Amount      float64
	Level       Level
	Tiers       Tiers
	Margin      float64
	Period      time.Duration
	Nodes       []string
	NodeTimeout time.Duration
	// P2pool is where hashing goes outside the XvB share of a period.
	P2pool Target

	Cadence        time.Duration
	PublicInterval time.Duration
	// Retry is how soon private stats are requested again after a failure.
	Retry time.Duration
}

func (s *Settings) defaults() {
	if s.Cadence <= 0 {
		s.Cadence = DefaultCadence
	}
	if s.Period <= 0 {
		s.Period = DefaultPeriod
	}
	if s.PublicInterval <= 0 {
		s.PublicInterval = DefaultPublicInterval
	}
	if s.Retry <= 0 {
		s.Retry = DefaultRetry
	}
	if s.Tiers == (Tiers{}) {
		s.Tiers = DefaultTiers
	}
	if s.Mode == "" {
		s.Mode = ModeAuto
	}
}

// Engine is the hashing engine currently available for switching.
type Engine struct {
	Kind     process.Kind
	Hashrate float64
	Switcher Switcher
}

// Sources gives read access to the other workers.
type Sources struct {
	// Engine returns the running hashing engine, proxy first.
	Engine        func() (Engine, bool)
	ShareInWindow func() bool
}

// Public is the presentation snapshot of the XvB worker.
type Public struct {
	Uptime         time.Duration `json:"uptime"`
	Stats          PublicStats   `json:"stats"`
	Private        PrivateStats  `json:"private"`
	Failures       int           `json:"failures"`
	Round          Level         `json:"round"`
	Node           string        `json:"node"`
	OnXvb          bool          `json:"on_xvb"`
	TimeSwitchNode uint32        `json:"time_switch_node"`
	Indicator      string        `json:"indicator"`
	Mode           Mode          `json:"mode"`
	Amount         float64       `json:"amount"`
	Level          Level         `json:"level"`
	Decision       Decision      `json:"decision"`
}

// Worker is the XvB watchdog. It has no child process; its loop polls the
// XvB endpoints and moves the hashing engine between P2Pool and XvB.
type Worker struct {
	proc    *process.Process
	client  *Client
	set     Settings
	src     Sources
	log     *slog.Logger
	history history.Sink
	public  *stats.Cell[Public]

	// loop-owned
	privOK       bool
	grace        bool
	onXvb        bool
	nextPublic   time.Time
	nextDecision time.Time
	switchBack   time.Time
}

func NewWorker(p *process.Process, c *Client, set Settings, src Sources, logger *slog.Logger, sink history.Sink) *Worker {
	set.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		proc:    p,
		client:  c,
		set:     set,
		src:     src,
		log:     logger,
		history: sink,
		public:  stats.NewCell(Public{Mode: set.Mode, Amount: set.Amount, Level: set.Level}),
	}
}

func (w *Worker) Public() Public { return w.public.Load() }

// SetRuntime changes the mode used from the next decision on.
func (w *Worker) SetRuntime(mode Mode, amount float64, level Level) {
	w.public.Update(func(p *Public) {
		p.Mode, p.Amount, p.Level = mode, amount, level
	})
}

// Run loops until Stop/Restart is signalled or ctx ends. The caller must have
// claimed the process record.
func (w *Worker) Run(ctx context.Context) {
	runID := uuid.NewString()
	w.log = w.log.With("worker", string(process.KindXvb), "run", runID)

	start := time.Now()
	w.proc.Output().ClearDisplay()
	w.proc.MarkStarted(0, runID, start)
	w.public.Update(func(p *Public) {
		*p = Public{Mode: p.Mode, Amount: p.Amount, Level: p.Level, Indicator: "starting"}
	})
	w.setState(process.StateSyncing)
	w.proc.ClearStartSignal()
	metrics.IncStart(string(process.KindXvb))
	w.record(history.EventStart, process.StateSyncing, "")
	w.println("XvB worker started, waiting for private stats")

	for {
		begin := time.Now()

		sig := w.proc.Signal()
		if ctx.Err() != nil {
			sig = process.SignalStop
		}
		if sig == process.SignalStop || sig == process.SignalRestart {
			w.leave(context.WithoutCancel(ctx), sig == process.SignalRestart, time.Since(start))
			return
		}

		w.proc.Output().ResetDisplayIfOver(process.MaxDisplayBytes, "XvB output reset")
		now := time.Now()
		if !now.Before(w.nextPublic) {
			w.updatePublic(ctx)
			w.nextPublic = now.Add(w.set.PublicInterval)
		}
		if !now.Before(w.nextDecision) {
			w.decide(ctx, now)
		}
		if w.onXvb && !w.switchBack.IsZero() && !now.Before(w.switchBack) {
			w.switchTo(ctx, w.set.P2pool, false)
			w.switchBack = time.Time{}
		}
		w.promote()
		w.tick(time.Since(start))

		if rest := w.set.Cadence - time.Since(begin); rest > 0 {
			t := time.NewTimer(rest)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
}

func (w *Worker) updatePublic(ctx context.Context) {
	ps, err := w.client.Public(ctx)
	if err != nil {
		metrics.IncPollFailure(string(process.KindXvb))
		w.log.Warn("public stats request failed", "error", err)
		return
	}
	w.public.Update(func(p *Public) { p.Stats = ps })
}

// updatePrivate applies the single-strike rule: any failure marks the worker
// Failed; a success after a failure passes through Syncing first.
func (w *Worker) updatePrivate(ctx context.Context) {
	priv, err := w.client.Private(ctx)
	failures := w.client.Failures()
	if err != nil {
		w.log.Warn("private stats request failed", "failures", failures, "error", err)
		if w.proc.State() != process.StateFailed {
			w.println("Failure to retrieve private stats\nWill retry shortly...")
		}
		if errors.Is(err, ErrInvalidToken) {
			w.println(ErrInvalidToken.Error())
		}
		w.println("request to get private API failed")
		w.privOK = false
		w.setState(process.StateFailed)
		w.public.Update(func(p *Public) { p.Failures = failures; p.Indicator = "private stats unavailable" })
		return
	}
	if w.proc.State() == process.StateFailed {
		w.println("requests for public API are now working")
		w.setState(process.StateSyncing)
	}
	if !w.privOK {
		w.grace = true
	}
	w.privOK = true
	round := w.set.Tiers.Round(priv.DonorAvg1h, priv.DonorAvg24h)
	w.public.Update(func(p *Public) {
		p.Private, p.Failures, p.Round = priv, failures, round
	})
}

func (w *Worker) decide(ctx context.Context, now time.Time) {
	w.updatePrivate(ctx)

	nodes := Probe(ctx, w.set.Nodes, w.set.NodeTimeout)
	if len(nodes) == 0 && w.privOK {
		w.setState(process.StateOfflineNodesAll)
	} else if len(nodes) > 0 && w.proc.State() == process.StateOfflineNodesAll {
		w.setState(process.StateSyncing)
	}

	pub := w.public.Load()
	in := Inputs{
		Mode:          pub.Mode,
		Level:         pub.Level,
		Amount:        pub.Amount,
		Tiers:         w.set.Tiers,
		Margin:        w.set.Margin,
		Period:        w.set.Period,
		Avg1h:         pub.Private.DonorAvg1h,
		Avg24h:        pub.Private.DonorAvg24h,
		PrivateFailed: !w.privOK,
		NodesOffline:  len(nodes) == 0,
	}
	if w.src.ShareInWindow != nil {
		in.ShareInWindow = w.src.ShareInWindow()
	}
	if eng, ok := w.engine(); ok {
		in.Hashrate = eng.Hashrate
	}
	d := Decide(in)

	node := ""
	if len(nodes) > 0 {
		node = nodes[0]
	}
	w.log.Info("distribution decided", "mode", string(in.Mode), "target", d.Target.String(),
		"xvb_time", d.XvbTime, "safe", d.Safe, "reason", d.Reason, "hashrate", in.Hashrate)
	metrics.IncXvbDecision(string(in.Mode), d.Target.String())
	metrics.SetXvbSeconds(d.XvbTime.Seconds())
	w.record(history.EventDecision, w.proc.State(), fmt.Sprintf("%s: %s on XvB (%s)", in.Mode, d.XvbTime, d.Reason))

	if d.XvbTime > 0 && !d.Safe {
		w.switchTo(ctx, Target{URL: node, User: w.set.Address}, true)
		w.switchBack = time.Time{}
		if d.XvbTime < w.set.Period {
			w.switchBack = now.Add(d.XvbTime)
		}
	} else {
		w.switchTo(ctx, w.set.P2pool, false)
		w.switchBack = time.Time{}
	}
	w.public.Update(func(p *Public) {
		p.Decision, p.Node, p.Indicator = d, node, d.Reason
	})

	next := w.set.Period
	if !w.privOK && w.set.Retry < next {
		next = w.set.Retry
	}
	w.nextDecision = now.Add(next)
}

func (w *Worker) engine() (Engine, bool) {
	if w.src.Engine == nil {
		return Engine{}, false
	}
	return w.src.Engine()
}

func (w *Worker) switchTo(ctx context.Context, t Target, xvb bool) {
	if t.URL == "" {
		w.onXvb = false
		return
	}
	eng, ok := w.engine()
	if !ok || eng.Switcher == nil {
		w.onXvb = false
		return
	}
	if err := eng.Switcher.Switch(ctx, t); err != nil {
		w.log.Warn("pool switch failed", "engine", string(eng.Kind), "pool", t.URL, "error", err)
		w.println(fmt.Sprintf("could not switch %s to %s: %v", eng.Kind.Title(), t.URL, err))
		return
	}
	w.onXvb = xvb
	pool := "P2Pool"
	if xvb {
		pool = "XvB"
	}
	w.println(fmt.Sprintf("%s now mining on %s (%s)", eng.Kind.Title(), pool, t.URL))
}

// promote moves Syncing to Alive one cycle after private stats recovered.
// Without an engine to switch the worker reports NotMining instead.
func (w *Worker) promote() {
	if !w.privOK {
		return
	}
	if w.grace {
		w.grace = false
		return
	}
	_, ok := w.engine()
	switch st := w.proc.State(); {
	case st == process.StateSyncing || st == process.StateNotMining:
		if ok {
			w.setState(process.StateAlive)
		} else {
			w.setState(process.StateNotMining)
		}
	case st == process.StateAlive && !ok:
		w.setState(process.StateNotMining)
	}
}

func (w *Worker) tick(uptime time.Duration) {
	until := w.nextDecision
	if w.onXvb && !w.switchBack.IsZero() {
		until = w.switchBack
	}
	left := time.Until(until).Seconds()
	if left < 0 {
		left = 0
	}
	w.public.Update(func(p *Public) {
		p.Uptime = uptime
		p.OnXvb = w.onXvb
		p.TimeSwitchNode = uint32(math.Ceil(left))
	})
}

func (w *Worker) leave(ctx context.Context, restart bool, uptime time.Duration) {
	if w.onXvb {
		w.switchTo(ctx, w.set.P2pool, false)
	}
	w.proc.Output().AppendDisplay(fmt.Sprintf("\nXvB stopped | Uptime: [%s] | Exit status: [Successful]\n", stats.Uptime(uptime)))
	metrics.IncStop(string(process.KindXvb), process.StateDead.String())
	w.log.Info("worker stopped", "restart", restart, "uptime", uptime.Round(time.Second))

	prev := w.proc.State()
	next, evt := process.StateDead, history.EventStop
	if restart {
		metrics.IncRestart(string(process.KindXvb))
		next, evt = process.StateWaiting, history.EventRestart
	}
	w.record(evt, next, "")
	w.proc.Exit(next)
	if prev != next {
		metrics.RecordTransition(string(process.KindXvb), prev.String(), next.String())
	}
}

func (w *Worker) setState(s process.State) {
	prev := w.proc.State()
	if prev == s || !w.proc.Advance(s) {
		return
	}
	metrics.RecordTransition(string(process.KindXvb), prev.String(), s.String())
	w.log.Debug("state changed", "from", prev.String(), "to", s.String())
	w.record(history.EventState, s, prev.String()+" -> "+s.String())
}

func (w *Worker) println(msg string) {
	w.proc.Output().AppendDisplay(msg + "\n")
}

func (w *Worker) record(t history.EventType, s process.State, detail string) {
	if w.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := w.history.Send(ctx, history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Worker: string(process.KindXvb),
			RunID:  w.proc.RunID(),
			State:  s.String(),
			Detail: detail,
		},
	})
	if err != nil {
		w.log.Warn("history send failed", "event", string(t), "error", err)
	}
}
