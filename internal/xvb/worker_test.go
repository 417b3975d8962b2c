package xvb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/rigwatch/internal/history"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSwitcher struct {
	mu      sync.Mutex
	targets []Target
}

func (r *recordSwitcher) Switch(_ context.Context, t Target) error {
	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()
	return nil
}

func (r *recordSwitcher) seen() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Target(nil), r.targets...)
}

type recordSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *recordSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type == history.EventState {
			out = append(out, e.Record.Detail)
		}
	}
	return out
}

var p2poolTarget = Target{URL: "127.0.0.1:3333", User: "rig"}

type harness struct {
	proc   *process.Process
	worker *Worker
	sw     *recordSwitcher
	sink   *recordSink
	done   chan struct{}
	hits   atomic.Int32
}

// start runs a worker against a fake XvB server. private answers the private
// endpoint; public stats always succeed.
func start(t *testing.T, set Settings, hashrate float64, private http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{sw: &recordSwitcher{}, sink: &recordSink{}, done: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/stats") {
			_, _ = w.Write([]byte(`{"time_remain":60,"round_type":"donor"}`))
			return
		}
		h.hits.Add(1)
		private(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("4Address", "tok")
	c.HTTP = srv.Client()
	c.PublicURL = srv.URL + "/p2pool/stats"
	c.PrivateURL = srv.URL + "/cgi-bin/private"

	if set.Cadence == 0 {
		set.Cadence = 10 * time.Millisecond
	}
	set.Address = "4Address"
	set.P2pool = p2poolTarget
	set.NodeTimeout = 500 * time.Millisecond
	src := Sources{
		Engine: func() (Engine, bool) {
			return Engine{Kind: process.KindXmrig, Hashrate: hashrate, Switcher: h.sw}, true
		},
		ShareInWindow: func() bool { return true },
	}

	h.proc = process.New(process.KindXvb)
	require.NoError(t, h.proc.Claim())
	h.worker = NewWorker(h.proc, c, set, src, nil, h.sink)
	go func() {
		defer close(h.done)
		h.worker.Run(context.Background())
	}()
	t.Cleanup(func() {
		h.proc.RequestStop()
		h.wait(t)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("xvb worker did not return")
	}
}

func okPrivate(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"fails":0,"donor_1hr_avg":2000,"donor_24hr_avg":2000}`))
}

func TestInvalidTokenFailsOnce(t *testing.T) {
	up := listen(t)
	h := start(t, Settings{Nodes: []string{up}, Retry: time.Minute}, 1000,
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnprocessableEntity) })

	require.Eventually(t, func() bool { return h.proc.State() == process.StateFailed }, 3*time.Second, 10*time.Millisecond)
	out := h.proc.Output().Display()
	assert.Contains(t, out, "Failure to retrieve private stats\nWill retry shortly...")
	assert.Contains(t, out, ErrInvalidToken.Error())
	assert.Contains(t, out, "request to get private API failed")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.hits.Load())
	assert.Equal(t, process.StateFailed, h.proc.State())
	assert.Equal(t, 1, h.worker.Public().Failures)

	d := h.worker.Public().Decision
	assert.True(t, d.Safe)
	assert.Equal(t, []Target{p2poolTarget}, h.sw.seen())

	require.True(t, h.proc.RequestStop())
	h.wait(t)
	assert.Equal(t, process.StateDead, h.proc.State())
}

func TestPrivateRecoveryPassesThroughSyncing(t *testing.T) {
	up := listen(t)
	var calls atomic.Int32
	h := start(t, Settings{Nodes: []string{up}, Mode: ModeManualP2pool, Retry: 50 * time.Millisecond}, 1000,
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			okPrivate(w, r)
		})

	require.Eventually(t, func() bool { return h.proc.State() == process.StateAlive }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"middle -> syncing",
		"syncing -> failed",
		"failed -> syncing",
		"syncing -> alive",
	}, h.sink.transitions())
	out := h.proc.Output().Display()
	assert.Contains(t, out, "requests for public API are now working")
	assert.Equal(t, LevelDonor, h.worker.Public().Round)
	assert.Zero(t, h.worker.Public().Failures)
}

func TestManualXvbSplitsPeriod(t *testing.T) {
	up := listen(t)
	h := start(t, Settings{
		Nodes:  []string{up},
		Mode:   ModeManualXvb,
		Amount: 500,
		Period: 400 * time.Millisecond,
	}, 1000, okPrivate)

	require.Eventually(t, func() bool { return len(h.sw.seen()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	seen := h.sw.seen()
	assert.Equal(t, Target{URL: up, User: "4Address"}, seen[0])
	assert.Equal(t, p2poolTarget, seen[1])

	d := h.worker.Public().Decision
	assert.Equal(t, 200*time.Millisecond, d.XvbTime)
	assert.False(t, d.Safe)
	assert.Equal(t, up, h.worker.Public().Node)
	assert.Contains(t, h.proc.Output().Display(), "XMRig now mining on XvB")
}

func TestStopSwitchesBackToP2pool(t *testing.T) {
	up := listen(t)
	h := start(t, Settings{Nodes: []string{up}, Mode: ModeHero}, 1000, okPrivate)

	require.Eventually(t, func() bool { return h.worker.Public().OnXvb }, 3*time.Second, 10*time.Millisecond)
	require.True(t, h.proc.RequestStop())
	h.wait(t)

	seen := h.sw.seen()
	require.NotEmpty(t, seen)
	assert.Equal(t, p2poolTarget, seen[len(seen)-1])
	assert.Equal(t, process.StateDead, h.proc.State())
	assert.Equal(t, process.SignalNone, h.proc.Signal())
	assert.Contains(t, h.proc.Output().Display(), "XvB stopped | Uptime: [")
}

func TestRestartLeavesWaiting(t *testing.T) {
	up := listen(t)
	h := start(t, Settings{Nodes: []string{up}}, 1000, okPrivate)

	require.Eventually(t, func() bool { return h.proc.State() == process.StateAlive }, 3*time.Second, 10*time.Millisecond)
	waiting, ok := h.proc.RequestRestart()
	require.True(t, ok)
	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("restart notification never fired")
	}
	h.wait(t)
	assert.Equal(t, process.StateWaiting, h.proc.State())
	assert.Equal(t, process.SignalRestart, h.proc.Signal())
	assert.False(t, h.proc.Running())
}

func TestAllNodesOffline(t *testing.T) {
	down := closedAddr(t)
	h := start(t, Settings{Nodes: []string{down}, Mode: ModeHero}, 1000, okPrivate)

	require.Eventually(t, func() bool { return h.proc.State() == process.StateOfflineNodesAll }, 3*time.Second, 10*time.Millisecond)
	d := h.worker.Public().Decision
	assert.True(t, d.Safe)
	assert.Equal(t, "all XvB nodes offline", d.Reason)
	assert.Empty(t, h.worker.Public().Node)
	assert.False(t, h.worker.Public().OnXvb)
}
