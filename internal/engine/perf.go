package engine

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Perf collects event-loop throughput counters. All methods are safe for
// concurrent use; counters are plain atomics so the hot path never locks.
type Perf struct {
	started         time.Time
	events          atomic.Int64
	signals         atomic.Int64
	executed        atomic.Int64
	rejected        atomic.Int64
	errors          atomic.Int64
	lastStrategyRun atomic.Int64 // unix nanos
}

// NewPerf creates a counter set anchored at now.
func NewPerf() *Perf {
	return &Perf{started: time.Now()}
}

func (p *Perf) AddEvent()    { p.events.Add(1) }
func (p *Perf) AddSignal()   { p.signals.Add(1) }
func (p *Perf) AddExecuted() { p.executed.Add(1) }
func (p *Perf) AddRejected() { p.rejected.Add(1) }
func (p *Perf) AddError()    { p.errors.Add(1) }

// MarkStrategyRun records when the strategies last evaluated.
func (p *Perf) MarkStrategyRun(t time.Time) { p.lastStrategyRun.Store(t.UnixNano()) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime          time.Duration
	Events          int64
	Signals         int64
	Executed        int64
	Rejected        int64
	Errors          int64
	LastStrategyRun time.Time
}

// Snapshot copies the counters.
func (p *Perf) Snapshot() Snapshot {
	return Snapshot{
		Uptime:          time.Since(p.started),
		Events:          p.events.Load(),
		Signals:         p.signals.Load(),
		Executed:        p.executed.Load(),
		Rejected:        p.rejected.Load(),
		Errors:          p.errors.Load(),
		LastStrategyRun: time.Unix(0, p.lastStrategyRun.Load()),
	}
}

// Report logs the current counters at info level.
func (p *Perf) Report(logger *slog.Logger) {
	s := p.Snapshot()
	logger.Info("performance report",
		slog.Duration("uptime", s.Uptime),
		slog.Int64("events", s.Events),
		slog.Int64("signals", s.Signals),
		slog.Int64("executed", s.Executed),
		slog.Int64("rejected", s.Rejected),
		slog.Int64("errors", s.Errors),
	)
}
