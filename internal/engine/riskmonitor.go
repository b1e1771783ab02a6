package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/executor"
	"github.com/dkoval/gotrader/internal/ledger"
	"github.com/dkoval/gotrader/internal/notify"
	"github.com/dkoval/gotrader/internal/risk"
)

// Alerter is the notification surface the monitor raises operator alerts
// through. internal/notify's Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// BalanceSource reports the venue's current free balances. domain.VenueClient
// satisfies it.
type BalanceSource interface {
	GetBalances(ctx context.Context) ([]domain.Balance, error)
}

// RiskMonitor periodically re-checks standing risk state that per-order
// checks cannot catch: positions drifting over their caps through fills,
// disagreement between the risk engine's live positions and the shadow
// ledger's independently derived ones, stale venue balances, and the daily
// loss accumulator rolling into a new UTC day.
type RiskMonitor struct {
	risk     *risk.Engine
	ledger   *ledger.Ledger
	exec     *executor.Executor
	balances BalanceSource
	alerter  Alerter
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time
	day time.Time // UTC midnight of the day the loss accumulator covers
}

// NewRiskMonitor wires a monitor. The balance source and alerter may be nil.
func NewRiskMonitor(
	riskEngine *risk.Engine,
	l *ledger.Ledger,
	exec *executor.Executor,
	balances BalanceSource,
	alerter Alerter,
	interval time.Duration,
	logger *slog.Logger,
) *RiskMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RiskMonitor{
		risk:     riskEngine,
		ledger:   l,
		exec:     exec,
		balances: balances,
		alerter:  alerter,
		interval: interval,
		logger:   logger.With(slog.String("component", "risk_monitor")),
		now:      time.Now,
	}
}

// Run checks on a fixed cadence until the context is cancelled.
func (m *RiskMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one monitoring pass: roll the daily loss window, refresh venue
// balances, cut positions back inside their limits, and cross-check the two
// position views.
func (m *RiskMonitor) Check(ctx context.Context) {
	m.rolloverDailyLoss()
	m.refreshBalances(ctx)
	m.reduceOversizedPositions(ctx)
	m.crossCheckPositions(ctx)
}

// rolloverDailyLoss clears the risk engine's loss accumulator when a pass
// lands in a new UTC day, so max_daily_loss halts trading for the day it
// names rather than forever.
func (m *RiskMonitor) rolloverDailyLoss() {
	day := m.now().UTC().Truncate(24 * time.Hour)
	switch {
	case m.day.IsZero():
		m.day = day
	case day.After(m.day):
		m.risk.ResetDailyLoss()
		m.logger.Info("daily loss accumulator reset",
			slog.String("day", day.Format("2006-01-02")),
		)
		m.day = day
	}
}

// refreshBalances feeds the venue's free balances to the risk engine so the
// min-free-balance rule checks against something current.
func (m *RiskMonitor) refreshBalances(ctx context.Context) {
	if m.balances == nil {
		return
	}
	balances, err := m.balances.GetBalances(ctx)
	if err != nil {
		m.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
		return
	}
	m.risk.SetBalances(balances)
}

// reduceOversizedPositions cancels outstanding orders for any symbol whose
// position has grown past its cap and submits a reducing market order for
// the excess. Reducing orders pass the position rule by construction.
func (m *RiskMonitor) reduceOversizedPositions(ctx context.Context) {
	for sym, excess := range m.risk.OverPositionLimit() {
		pos, ok := m.risk.Position(sym)
		if !ok {
			continue
		}
		side := domain.SideSell
		if pos.Size.IsNegative() {
			side = domain.SideBuy
		}

		m.logger.Warn("position over limit, reducing",
			slog.String("symbol", string(sym)),
			slog.String("position", pos.Size.String()),
			slog.String("excess", excess.String()),
			slog.String("side", string(side)),
		)
		m.alert(ctx, notify.EventRiskViolation, "Position over limit",
			string(sym)+" position "+pos.Size.String()+" exceeds its cap by "+excess.String())

		if err := m.exec.CancelAll(ctx, sym); err != nil {
			m.logger.Warn("cancel-all during reduction failed",
				slog.String("symbol", string(sym)),
				slog.String("error", err.Error()),
			)
		}
		reduce := domain.NewOrder{
			Symbol:      sym,
			Exchange:    pos.Exchange,
			Side:        side,
			Type:        domain.OrderTypeMarket,
			TimeInForce: domain.TIFImmediateOrCancel,
			Size:        domain.NewSize(excess),
			ClientID:    "reduce-" + uuid.NewString(),
		}
		if _, err := m.exec.SubmitOrder(ctx, reduce); err != nil {
			m.logger.Error("position reduction failed",
				slog.String("symbol", string(sym)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// crossCheckPositions compares the risk engine's live position sizes against
// the shadow ledger's. Both are derived from the same execution reports, so
// any disagreement means a dropped or double-applied report and warrants an
// operator alert rather than an automatic fix.
func (m *RiskMonitor) crossCheckPositions(ctx context.Context) {
	for _, pos := range m.risk.Positions() {
		lpos, ok := m.ledger.Position(pos.Symbol)
		if !ok {
			if !pos.Size.IsZero() {
				m.reportDrift(ctx, pos.Symbol, pos.Size.String(), "none")
			}
			continue
		}
		if !pos.Size.Equal(lpos.Size) {
			m.reportDrift(ctx, pos.Symbol, pos.Size.String(), lpos.Size.String())
		}
	}
}

func (m *RiskMonitor) reportDrift(ctx context.Context, symbol domain.Symbol, riskSize, ledgerSize string) {
	m.logger.Error("position drift between risk engine and ledger",
		slog.String("symbol", string(symbol)),
		slog.String("risk_size", riskSize),
		slog.String("ledger_size", ledgerSize),
	)
	m.alert(ctx, notify.EventRiskViolation, "Position drift detected",
		string(symbol)+": risk engine "+riskSize+" vs ledger "+ledgerSize)
}

func (m *RiskMonitor) alert(ctx context.Context, event, title, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Notify(ctx, event, title, message); err != nil {
		m.logger.Warn("alert delivery failed", slog.String("error", err.Error()))
	}
}
