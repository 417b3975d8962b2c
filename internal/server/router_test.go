package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/rigwatch/internal/manager"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/sudo"
	"github.com/loykin/rigwatch/internal/xvb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	mu      sync.Mutex
	calls   []string
	secrets [][]byte // slices as handed over, checked for wiping
	started map[process.Kind]bool
	mode    xvb.Mode
	level   xvb.Level
	amount  float64
}

func newFake() *fakeControl { return &fakeControl{started: map[process.Kind]bool{}} }

func (f *fakeControl) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeControl) launch(op string, k process.Kind, secret []byte) error {
	f.record(fmt.Sprintf("%s %s %q", op, k, secret))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets = append(f.secrets, secret)
	if k == process.KindXmrig && len(secret) == 0 {
		return sudo.ErrNoSecret
	}
	if op == "start" && f.started[k] {
		return process.ErrAlreadyRunning
	}
	f.started[k] = true
	return nil
}

func (f *fakeControl) Start(k process.Kind, secret []byte) error { return f.launch("start", k, secret) }
func (f *fakeControl) Restart(k process.Kind, secret []byte) error { return f.launch("restart", k, secret) }

func (f *fakeControl) Stop(k process.Kind, secret []byte) error {
	f.record(fmt.Sprintf("stop %s %q", k, secret))
	f.mu.Lock()
	f.secrets = append(f.secrets, secret)
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) Input(k process.Kind, line string) error {
	f.record("input " + string(k) + " " + line)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started[k] {
		return manager.ErrNotRunning
	}
	return nil
}

func (f *fakeControl) Snapshot(k process.Kind) (manager.Snapshot, error) {
	return manager.Snapshot{Status: process.Status{Kind: k, State: process.StateAlive, Health: process.HealthGreen}}, nil
}

func (f *fakeControl) Snapshots() []manager.Snapshot {
	out := make([]manager.Snapshot, 0, len(process.Kinds))
	for _, k := range process.Kinds {
		s, _ := f.Snapshot(k)
		out = append(out, s)
	}
	return out
}

func (f *fakeControl) SetXvbRuntime(mode xvb.Mode, amount float64, level xvb.Level) error {
	f.mu.Lock()
	f.mode, f.amount, f.level = mode, amount, level
	f.mu.Unlock()
	return nil
}

func setupRouter(t *testing.T, base string) (http.Handler, *fakeControl) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFake()
	return NewRouter(f, base, true).Handler(), f
}

func doReq(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestListWorkers(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, len(process.Kinds))
	assert.Equal(t, "node", got[0]["kind"])
	assert.Equal(t, "alive", got[0]["state"])
	assert.Equal(t, "green", got[0]["health"])
}

func TestUnknownKindIs404(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/api/workers/gpu", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPost, "/api/workers/gpu/stop", nil).Code)
}

func TestStartPassesAndWipesSecret(t *testing.T) {
	h, f := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodPost, "/api/workers/xmrig/start", strings.NewReader("hunter2\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{`start xmrig "hunter2"`}, f.calls)
	require.Len(t, f.secrets, 1)
	assert.Equal(t, make([]byte, len("hunter2")), f.secrets[0])

	rec = doReq(t, h, http.MethodPost, "/api/workers/node/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/api/workers/node/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartWithoutSecret(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(t, h, http.MethodPost, "/workers/xmrig/restart", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), sudo.ErrNoSecret.Error())
}

func TestStopCarriesSecretForElevatedKill(t *testing.T) {
	h, f := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodPost, "/api/workers/xmrig/stop", strings.NewReader("hunter2\r\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{`stop xmrig "hunter2"`}, f.calls)
	require.Len(t, f.secrets, 1)
	assert.Equal(t, make([]byte, len("hunter2")), f.secrets[0])
}

func TestStopAndInput(t *testing.T) {
	h, f := setupRouter(t, "/api")
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/workers/p2pool/stop", nil).Code)

	rec := doReq(t, h, http.MethodPost, "/api/workers/p2pool/input", jsonBody(t, inputReq{Line: "status"}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/workers/p2pool/start", nil).Code)
	rec = doReq(t, h, http.MethodPost, "/api/workers/p2pool/input", jsonBody(t, inputReq{Line: "status"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.calls, "input p2pool status")

	rec = doReq(t, h, http.MethodPost, "/api/workers/p2pool/input", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestXvbRuntime(t *testing.T) {
	h, f := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodPost, "/api/xvb/runtime", jsonBody(t, runtimeReq{Mode: "manual_xvb", Amount: 1200, Level: "vip"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xvb.ModeManualXvb, f.mode)
	assert.Equal(t, xvb.LevelDonorVIP, f.level)
	assert.InDelta(t, 1200, f.amount, 0.001)

	rec = doReq(t, h, http.MethodPost, "/api/xvb/runtime", jsonBody(t, runtimeReq{Mode: "turbo"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/api/xvb/runtime", jsonBody(t, runtimeReq{Amount: -1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/a/b", sanitizeBase("/a/b//"))
}
