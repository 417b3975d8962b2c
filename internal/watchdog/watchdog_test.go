//go:build !windows

package watchdog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/pty"
	"github.com/loykin/rigwatch/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	kind    process.Kind
	script  string
	initial process.State
	poll    func(ctx context.Context, client *http.Client) error
	polls   atomic.Int32
	resets  atomic.Int32
}

func (f *fakeDriver) Kind() process.Kind { return f.kind }
func (f *fakeDriver) Elevated() bool { return false }
func (f *fakeDriver) InitialState() process.State { return f.initial }
func (f *fakeDriver) Reset() { f.resets.Add(1) }
func (f *fakeDriver) SetUptime(time.Duration) {}
func (f *fakeDriver) Public() any { return nil }
func (f *fakeDriver) Hashrate() float64 { return 0 }

func (f *fakeDriver) Command() pty.Spec {
	return pty.Spec{Path: "sh", Args: []string{"-c", f.script}}
}

func (f *fakeDriver) Poll(ctx context.Context, client *http.Client) error {
	f.polls.Add(1)
	if f.poll == nil {
		return errors.New("no status endpoint")
	}
	return f.poll(ctx, client)
}

func run(t *testing.T, d Driver) (*process.Process, <-chan struct{}) {
	t.Helper()
	p := process.New(d.Kind())
	require.NoError(t, p.Claim())
	w := New(p, d, Options{Cadence: 50 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	t.Cleanup(func() {
		p.RequestStop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watchdog did not terminate")
		}
	})
	return p, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not return")
	}
}

func TestNewJobMovesNotMiningToAlive(t *testing.T) {
	d := &fakeDriver{kind: process.KindXmrig, initial: process.StateNotMining,
		script: `sleep 0.3; echo "[2024-01-01] net new job from 127.0.0.1:3333"; sleep 30`}
	p, done := run(t, d)

	require.Eventually(t, func() bool { return p.State() == process.StateNotMining }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.State() == process.StateAlive }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, process.SignalNone, p.Signal())
	assert.NotZero(t, p.PID())
	assert.NotEmpty(t, p.RunID())

	require.True(t, p.RequestStop())
	assert.Equal(t, process.StateMiddle, p.State())
	waitDone(t, done)

	assert.Equal(t, process.StateDead, p.State())
	assert.Equal(t, process.SignalNone, p.Signal())
	assert.False(t, p.Running())
	out := p.Output().Display()
	assert.Contains(t, out, "new job")
	assert.Contains(t, out, "XMRig stopped | Uptime: [")
	assert.Contains(t, out, "Exit status: [Successful]")
}

func TestStatusTimeoutsKeepMarkerState(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	d := &fakeDriver{kind: process.KindXmrig, initial: process.StateNotMining,
		script: `echo "new job"; sleep 30`}
	d.poll = func(ctx context.Context, client *http.Client) error {
		_, err := stats.Request[stats.XmrigSummary](ctx, client, stats.Endpoint{URI: slow.URL, Timeout: 20 * time.Millisecond})
		return err
	}
	p, _ := run(t, d)

	require.Eventually(t, func() bool { return p.State() == process.StateAlive }, 2*time.Second, 10*time.Millisecond)
	start := d.polls.Load()
	require.Eventually(t, func() bool { return d.polls.Load() >= start+5 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, process.StateAlive, p.State())
}

func TestExitClassification(t *testing.T) {
	cases := []struct {
		name   string
		script string
		state  process.State
		status string
	}{
		{"clean exit", "echo bye; exit 0", process.StateDead, "Successful"},
		{"non-zero exit", "echo oops; exit 3", process.StateFailed, "Failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDriver{kind: process.KindProxy, initial: process.StateNotMining, script: tc.script}
			p, done := run(t, d)
			waitDone(t, done)
			assert.Equal(t, tc.state, p.State())
			assert.Equal(t, process.SignalNone, p.Signal())
			assert.Contains(t, p.Output().Display(), "XMRig-Proxy stopped | Uptime: [")
			assert.Contains(t, p.Output().Display(), "Exit status: ["+tc.status+"]")
		})
	}
}

func TestRestartLeavesWaitingAndSignal(t *testing.T) {
	d := &fakeDriver{kind: process.KindP2Pool, initial: process.StateSyncing, script: "sleep 30"}
	p, done := run(t, d)
	require.Eventually(t, func() bool { return p.State() == process.StateSyncing }, 2*time.Second, 10*time.Millisecond)

	waiting, ok := p.RequestRestart()
	require.True(t, ok)
	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("restart notification never fired")
	}
	waitDone(t, done)
	assert.Equal(t, process.StateWaiting, p.State())
	assert.Equal(t, process.SignalRestart, p.Signal())
	assert.False(t, p.Running())
}

func TestInputReachesChild(t *testing.T) {
	d := &fakeDriver{kind: process.KindNode, initial: process.StateSyncing,
		script: `read l; echo "got:$l"; sleep 30`}
	p, _ := run(t, d)
	require.Eventually(t, func() bool { return p.State() == process.StateSyncing }, 2*time.Second, 10*time.Millisecond)
	p.QueueInput("status")
	require.Eventually(t, func() bool {
		return strings.Contains(p.Output().Display(), "got:status")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSpawnFailureMarksFailed(t *testing.T) {
	p := process.New(process.KindXmrig)
	require.NoError(t, p.Claim())
	New(p, NewXmrig(config.XmrigConfig{}), Options{}).Run(context.Background())
	assert.Equal(t, process.StateFailed, p.State())
	assert.False(t, p.Running())
	assert.Contains(t, p.Output().Display(), "failed to start")
}

func TestContextCancelStopsWorker(t *testing.T) {
	d := &fakeDriver{kind: process.KindNode, initial: process.StateSyncing, script: "sleep 30"}
	p := process.New(d.Kind())
	require.NoError(t, p.Claim())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		New(p, d, Options{Cadence: 50 * time.Millisecond}).Run(ctx)
	}()
	require.Eventually(t, func() bool { return p.State() == process.StateSyncing }, 2*time.Second, 10*time.Millisecond)
	cancel()
	waitDone(t, done)
	assert.Equal(t, process.StateDead, p.State())
}

func TestChildOutlivingKillEndsFailed(t *testing.T) {
	d := &fakeDriver{kind: process.KindNode, initial: process.StateSyncing, script: "sleep 30"}
	p := process.New(d.Kind())
	require.NoError(t, p.Claim())
	var child *pty.Child
	w := New(p, d, Options{
		Cadence:  50 * time.Millisecond,
		KillWait: 200 * time.Millisecond,
		Kill: func(c *pty.Child) error {
			child = c
			return nil
		},
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return p.State() == process.StateSyncing }, 2*time.Second, 10*time.Millisecond)

	require.True(t, p.RequestStop())
	waitDone(t, done)
	assert.Equal(t, process.StateFailed, p.State())
	assert.Equal(t, process.SignalNone, p.Signal())
	assert.False(t, p.Running())
	assert.Contains(t, p.Output().Display(), "after kill")

	require.NotNil(t, child)
	_ = child.Kill()
	_, reaped := child.Wait(5 * time.Second)
	assert.True(t, reaped)
}

func TestArgBuilders(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	x := cfg.Xmrig
	x.Threads, x.RigID, x.APIToken = 4, "rig1", "tok"
	assert.Equal(t, []string{
		"--url", "127.0.0.1:3333", "--threads", "4", "--rig-id", "rig1",
		"--http-host", "127.0.0.1", "--http-port", "18088", "--http-no-restricted", "--no-color",
		"--http-access-token", "tok",
	}, XmrigArgs(x))

	x.Args = []string{"--config", "x.json"}
	assert.Equal(t, []string{"--config", "x.json"}, XmrigArgs(x))

	pc := cfg.P2pool
	pc.Wallet, pc.Mini = "4abc", true
	args := P2poolArgs(pc)
	assert.Contains(t, args, "--mini")
	assert.Contains(t, args, "0.0.0.0:3333")

	nc := cfg.Node
	nc.Prune = true
	assert.Contains(t, NodeArgs(nc), "--prune-blockchain")
	assert.Contains(t, NodeArgs(nc), "tcp://127.0.0.1:18083")

	assert.Contains(t, ProxyArgs(cfg.Proxy), "0.0.0.0:3355")
}

func TestDriverPollUpdatesPublic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/summary", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"worker_id":"rig1","hashrate":{"total":[1500.5,null,null]},"connection":{"pool":"p:3333","accepted":null}}`))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	x := NewXmrig(config.XmrigConfig{APIHost: host, APIPort: port, APIToken: "tok"})
	require.NoError(t, x.Poll(context.Background(), srv.Client()))
	pub := x.Snapshot()
	assert.Equal(t, "rig1", pub.WorkerID)
	assert.Equal(t, stats.Unknown, pub.Accepted)
	assert.InDelta(t, 1500.5, x.Hashrate(), 0.001)

	x.SetUptime(3 * time.Second)
	assert.Equal(t, 3*time.Second, x.Snapshot().Uptime)
	x.Reset()
	assert.Equal(t, stats.Unknown, x.Snapshot().WorkerID)
}

func splitHostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}
