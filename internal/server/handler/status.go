package handler

import (
	"net/http"
	"time"

	"github.com/dkoval/gotrader/internal/engine"
)

// LoopStatus exposes the running state of the trading loop.
type LoopStatus interface {
	IsRunning() bool
}

// PerfSource exposes the loop's performance counters.
type PerfSource interface {
	Snapshot() engine.Snapshot
}

// StatusHandler reports the engine mode, running state, active strategies,
// and the current performance counters.
type StatusHandler struct {
	mode       string
	strategies []string
	loop       LoopStatus
	perf       PerfSource
}

// NewStatusHandler creates a new StatusHandler. loop and perf may be nil; the
// corresponding fields are then omitted from the response.
func NewStatusHandler(mode string, strategies []string, loop LoopStatus, perf PerfSource) *StatusHandler {
	return &StatusHandler{
		mode:       mode,
		strategies: strategies,
		loop:       loop,
		perf:       perf,
	}
}

type perfResponse struct {
	Uptime          string    `json:"uptime"`
	Events          int64     `json:"events"`
	Signals         int64     `json:"signals"`
	Executed        int64     `json:"executed"`
	Rejected        int64     `json:"rejected"`
	Errors          int64     `json:"errors"`
	LastStrategyRun time.Time `json:"last_strategy_run"`
}

// GetStatus responds with the current engine state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":       h.mode,
		"strategies": h.strategies,
	}
	if h.loop != nil {
		resp["running"] = h.loop.IsRunning()
	}
	if h.perf != nil {
		snap := h.perf.Snapshot()
		resp["perf"] = perfResponse{
			Uptime:          snap.Uptime.Round(time.Second).String(),
			Events:          snap.Events,
			Signals:         snap.Signals,
			Executed:        snap.Executed,
			Rejected:        snap.Rejected,
			Errors:          snap.Errors,
			LastStrategyRun: snap.LastStrategyRun,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
