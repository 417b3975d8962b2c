package process

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrUnknownKind    = errors.New("unknown worker kind")
	ErrAlreadyRunning = errors.New("worker already running")
)

// Process is the control record for one worker. Its watchdog goroutine is the
// only writer of state and buffers; the control surface reads the state and
// writes the signal and input queue. The mutex is never held across I/O.
type Process struct {
	kind   Kind
	output *Output

	mu      sync.Mutex
	state   State
	signal  Signal
	running bool // a watchdog goroutine currently owns this record
	start   time.Time
	runID   string
	pid     int
	input   []string
	waiting chan struct{} // closed once the current watchdog reaches Waiting or exits
}

func New(kind Kind) *Process {
	return &Process{kind: kind, state: StateDead, output: NewOutput()}
}

func (p *Process) Kind() Kind { return p.kind }

func (p *Process) Output() *Output { return p.output }

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState moves the worker to s. Reaching Waiting fulfils a pending restart
// notification.
func (p *Process) SetState(s State) {
	p.mu.Lock()
	p.state = s
	if s == StateWaiting {
		p.notifyWaitingLocked()
	}
	p.mu.Unlock()
}

// Advance moves the worker to s unless a pending Stop or Restart holds it in
// Middle. It reports whether s was applied.
func (p *Process) Advance(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signal == SignalStop || p.signal == SignalRestart {
		return false
	}
	p.state = s
	if s == StateWaiting {
		p.notifyWaitingLocked()
	}
	return true
}

func (p *Process) Signal() Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal
}

func (p *Process) SetSignal(s Signal) {
	p.mu.Lock()
	p.signal = s
	p.mu.Unlock()
}

// Is reports whether the worker currently is in state s.
func (p *Process) Is(s State) bool { return p.State() == s }

// Running reports whether a watchdog currently owns the record.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Claim marks the record as owned by a new watchdog and moves it to Middle.
// It fails with ErrAlreadyRunning when another watchdog still owns it.
func (p *Process) Claim() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.state = StateMiddle
	p.signal = SignalStart
	return nil
}

// Release is called by the watchdog on exit. Any restart supervisor still
// waiting is released as well, since the child is gone.
func (p *Process) Release() {
	p.mu.Lock()
	p.running = false
	p.pid = 0
	p.notifyWaitingLocked()
	p.mu.Unlock()
}

// Exit ends the current run in one step: it moves to s, clears the signal
// unless s is Waiting, releases ownership and wakes a pending restart.
func (p *Process) Exit(s State) {
	p.mu.Lock()
	p.state = s
	if s != StateWaiting {
		p.signal = SignalNone
	}
	p.running = false
	p.pid = 0
	p.notifyWaitingLocked()
	p.mu.Unlock()
}

// RequestStop sets signal=Stop and state=Middle. It is a no-op returning false
// when no watchdog owns the record (dead, failed or never started).
func (p *Process) RequestStop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.signal = SignalStop
	p.state = StateMiddle
	return true
}

// RequestRestart sets signal=Restart and state=Middle and returns a channel
// closed once the current watchdog reaches Waiting (or exits). ok is false when
// no watchdog owns the record; the caller can start directly.
func (p *Process) RequestRestart() (waiting <-chan struct{}, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, false
	}
	if p.waiting == nil {
		p.waiting = make(chan struct{})
	}
	p.signal = SignalRestart
	p.state = StateMiddle
	return p.waiting, true
}

func (p *Process) notifyWaitingLocked() {
	if p.waiting != nil {
		close(p.waiting)
		p.waiting = nil
	}
}

// MarkStarted records identity of a freshly spawned child.
func (p *Process) MarkStarted(pid int, runID string, at time.Time) {
	p.mu.Lock()
	p.pid = pid
	p.runID = runID
	p.start = at
	p.mu.Unlock()
}

// ClearStartSignal resets a Start signal to None. Stop or Restart requested
// while the worker was still starting up are preserved for the loop.
func (p *Process) ClearStartSignal() {
	p.mu.Lock()
	if p.signal == SignalStart {
		p.signal = SignalNone
	}
	p.mu.Unlock()
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

// QueueInput appends a stdin line for the watchdog to deliver.
func (p *Process) QueueInput(line string) {
	p.mu.Lock()
	p.input = append(p.input, line)
	p.mu.Unlock()
}

// TakeInput drains the queued stdin lines.
func (p *Process) TakeInput() []string {
	p.mu.Lock()
	in := p.input
	p.input = nil
	p.mu.Unlock()
	return in
}

// Snapshot returns a read-only copy safe to hand to the presentation layer.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	st := Status{
		Kind:      p.kind,
		State:     p.state,
		Signal:    p.signal,
		Running:   p.running,
		PID:       p.pid,
		RunID:     p.runID,
		StartedAt: p.start,
	}
	p.mu.Unlock()
	if st.Running && !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt).Round(time.Second)
	}
	st.Health = Classify(st.Kind, st.State)
	st.Output = p.output.Display()
	return st
}
