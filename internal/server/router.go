package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/rigwatch/internal/manager"
	"github.com/loykin/rigwatch/internal/metrics"
	"github.com/loykin/rigwatch/internal/process"
	"github.com/loykin/rigwatch/internal/xvb"
)

// Control is the worker control and presentation surface served over HTTP.
type Control interface {
	Start(kind process.Kind, secret []byte) error
	Stop(kind process.Kind, secret []byte) error
	Restart(kind process.Kind, secret []byte) error
	Input(kind process.Kind, line string) error
	Snapshot(kind process.Kind) (manager.Snapshot, error)
	Snapshots() []manager.Snapshot
	SetXvbRuntime(mode xvb.Mode, amount float64, level xvb.Level) error
}

// Router provides embeddable HTTP handlers for the workers.
// Endpoints:
//
//	GET  {basePath}/workers               all snapshots, start order
//	GET  {basePath}/workers/:kind         one snapshot
//	POST {basePath}/workers/:kind/start   body: elevation secret (optional, raw)
//	POST {basePath}/workers/:kind/stop    body: elevation secret (optional, raw)
//	POST {basePath}/workers/:kind/restart body: elevation secret (optional, raw)
//	POST {basePath}/workers/:kind/input   body: {"line": "..."}
//	POST {basePath}/xvb/runtime           body: {"mode": "...", "amount": 0, "level": "..."}
//	GET  /metrics                         when metrics are enabled
type Router struct {
	ctl      Control
	basePath string
	metrics  bool
}

func NewRouter(ctl Control, basePath string, withMetrics bool) *Router {
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/workers", r.handleList)
	group.GET("/workers/:kind", r.handleGet)
	group.POST("/workers/:kind/start", r.handleStart)
	group.POST("/workers/:kind/stop", r.handleStop)
	group.POST("/workers/:kind/restart", r.handleRestart)
	group.POST("/workers/:kind/input", r.handleInput)
	group.POST("/xvb/runtime", r.handleXvbRuntime)
	return g
}

// NewServer builds the daemon HTTP server; the caller runs ListenAndServe.
func NewServer(addr, basePath string, ctl Control, withMetrics bool) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ctl, basePath, withMetrics).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type inputReq struct {
	Line string `json:"line"`
}

type runtimeReq struct {
	Mode   string  `json:"mode"`
	Amount float64 `json:"amount"`
	Level  string  `json:"level"`
}

func (r *Router) kind(c *gin.Context) (process.Kind, bool) {
	k, err := process.ParseKind(c.Param("kind"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return "", false
	}
	return k, true
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Snapshots())
}

func (r *Router) handleGet(c *gin.Context) {
	k, ok := r.kind(c)
	if !ok {
		return
	}
	s, err := r.ctl.Snapshot(k)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleStart(c *gin.Context) { r.launch(c, r.ctl.Start) }

func (r *Router) handleRestart(c *gin.Context) { r.launch(c, r.ctl.Restart) }

// launch reads the optional raw secret body and hands it to fn, which wipes it.
// Start, Restart and Stop share it.
func (r *Router) launch(c *gin.Context, fn func(process.Kind, []byte) error) {
	k, ok := r.kind(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	defer clear(raw)
	if err := fn(k, trimLineEnd(raw)); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) { r.launch(c, r.ctl.Stop) }

func (r *Router) handleInput(c *gin.Context) {
	k, ok := r.kind(c)
	if !ok {
		return
	}
	var req inputReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.ctl.Input(k, req.Line); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleXvbRuntime(c *gin.Context) {
	var req runtimeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	mode, err := xvb.ParseMode(req.Mode)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	level, err := xvb.ParseLevel(req.Level)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if req.Amount < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "amount must not be negative"})
		return
	}
	if err := r.ctl.SetXvbRuntime(mode, req.Amount, level); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
