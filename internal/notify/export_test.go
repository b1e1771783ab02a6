package notify

import "time"

// SetNow overrides the notifier's clock for deterministic tests.
func (n *Notifier) SetNow(now func() time.Time) { n.now = now }
