// Package notify provides a multi-channel notification system. Notifications
// are dispatched to all registered senders (Telegram, Discord, etc.) and can be
// filtered by event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types raised by the trading engine.
const (
	EventRiskViolation = "risk_violation"
	EventOrderFilled   = "order_filled"
	EventOrderFailed   = "order_failed"
	EventDailyLossHalt = "daily_loss_halt"
	EventEngineStopped = "engine_stopped"
	EventFeedDown      = "feed_down"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards messages whose event type is in
// the allowed set, while NotifyAll bypasses the filter. Identical alerts
// within the repeat window are suppressed, so a monitor re-raising the same
// condition every pass does not page the operator every pass.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	window  time.Duration   // repeat-suppression window, 0 disables
	logger  *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time // event+title -> last delivery
	now      func() time.Time
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed. repeatWindow suppresses
// identical (event, title) alerts delivered within it; 0 disables suppression.
func NewNotifier(senders []Sender, events []string, repeatWindow time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		window:   repeatWindow,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	// If specific events were configured, filter.
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	if n.suppressed(event, title) {
		n.logger.DebugContext(ctx, "repeat alert suppressed",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type or
// repeat suppression.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// suppressed reports whether an identical alert went out within the repeat
// window, recording this delivery otherwise.
func (n *Notifier) suppressed(event, title string) bool {
	if n.window <= 0 {
		return false
	}
	key := event + "\x00" + title
	n.mu.Lock()
	defer n.mu.Unlock()
	nowT := n.now()
	if last, ok := n.lastSent[key]; ok && nowT.Sub(last) < n.window {
		return true
	}
	n.lastSent[key] = nowT
	return false
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
