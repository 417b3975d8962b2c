package manager

import (
	"github.com/loykin/rigwatch/internal/process"
)

// supervise waits for the restarting watchdog to hand the worker back and
// starts it again. The old child is gone by then, so two watchdogs never own
// the same worker.
func (r *Registry) supervise(e *entry, waiting <-chan struct{}) {
	defer r.wg.Done()
	kind := e.proc.Kind()
	select {
	case <-waiting:
	case <-r.ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e.restarting = false
	if r.ctx.Err() != nil {
		r.dropSecret(e)
		return
	}
	// A Stop issued meanwhile ends the run in Dead instead of Waiting.
	if e.proc.State() != process.StateWaiting {
		r.log.Info("restart abandoned", "worker", string(kind), "state", e.proc.State().String())
		r.dropSecret(e)
		return
	}
	if err := r.startLocked(e); err != nil {
		r.log.Error("restart failed", "worker", string(kind), "error", err)
	}
}

// dropSecret wipes a secret taken for a start that will not happen.
func (r *Registry) dropSecret(e *entry) {
	if e.drv != nil && e.drv.Elevated() {
		r.broker.Secret.Wipe()
	}
}
