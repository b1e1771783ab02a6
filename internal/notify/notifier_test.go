package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error
	sent []string // titles
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventRiskViolation}, 0, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventOrderFilled, "filled", "ignored"))
	assert.Empty(t, s.sent)

	require.NoError(t, n.Notify(ctx, EventRiskViolation, "violation", "delivered"))
	assert.Equal(t, []string{"violation"}, s.sent)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, 0, discard())

	require.NoError(t, n.Notify(context.Background(), EventFeedDown, "down", "x"))
	assert.Len(t, s.sent, 1)
}

func TestNotifyFansOutAndJoinsErrors(t *testing.T) {
	ok := &stubSender{name: "ok"}
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, 0, discard())

	err := n.Notify(context.Background(), EventEngineStopped, "stopped", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, ok.sent, 1, "one failing sender must not block the rest")
}

func TestNotifySuppressesRepeatsWithinWindow(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, discard())

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	n.SetNow(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventRiskViolation, "over limit", "BTC"))
	require.NoError(t, n.Notify(ctx, EventRiskViolation, "over limit", "BTC"))
	assert.Len(t, s.sent, 1, "identical repeat inside the window is dropped")

	// A different title is a different alert.
	require.NoError(t, n.Notify(ctx, EventRiskViolation, "drift", "BTC"))
	assert.Len(t, s.sent, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, EventRiskViolation, "over limit", "BTC"))
	assert.Len(t, s.sent, 3, "window elapsed, alert goes out again")
}

func TestNotifyAllBypassesFilterAndSuppression(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventRiskViolation}, time.Minute, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyAll(ctx, "shutdown", "x"))
	require.NoError(t, n.NotifyAll(ctx, "shutdown", "x"))
	assert.Len(t, s.sent, 2)
}

func TestNotifierWithoutSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, 0, discard())
	assert.NoError(t, n.Notify(context.Background(), EventOrderFailed, "t", "m"))
}
