package engine

import "time"

// SetClock overrides the monitor's time source.
func (m *RiskMonitor) SetClock(now func() time.Time) { m.now = now }
