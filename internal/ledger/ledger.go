// Package ledger keeps an independent, append-only record of every fill the
// engine sees. It derives positions and P&L purely from execution reports so
// its numbers can be cross-checked against the risk engine's live view.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

const dayFormat = "2006-01-02"

// Ledger is the shadow book of record. It is fed exclusively through
// RecordExecution; nothing else mutates it. Reads return copies.
type Ledger struct {
	mu        sync.RWMutex
	trades    []domain.TradeRecord
	positions map[domain.Symbol]domain.PositionRecord
	applied   map[string]decimal.Decimal // order id -> cumulative filled already booked
	dailyPnL  map[string]decimal.Decimal // UTC day -> realized P&L
	flushed   int                        // trades[:flushed] already persisted
	logger    *slog.Logger
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[domain.Symbol]domain.PositionRecord),
		applied:   make(map[string]decimal.Decimal),
		dailyPnL:  make(map[string]decimal.Decimal),
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// RecordExecution books the new fill quantity carried by an execution report:
// it appends a trade record, folds the fill into the symbol's position at
// weighted-average cost, and realizes P&L on any position-reducing portion.
// Reports without a new fill (rejections, cancels, replays of an
// already-booked cumulative quantity) return nil. Forwarding the same report
// twice books nothing twice.
func (l *Ledger) RecordExecution(report domain.ExecutionReport) *domain.TradeRecord {
	if report.Status != domain.OrderStatusFilled && report.Status != domain.OrderStatusPartiallyFilled {
		return nil
	}
	fillPrice, ok := report.LastFill()
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.applied[report.OrderID]
	delta := report.FilledSize.Decimal().Sub(prev)
	if !delta.IsPositive() {
		return nil
	}
	l.applied[report.OrderID] = report.FilledSize.Decimal()
	if report.Status.IsTerminal() {
		delete(l.applied, report.OrderID)
	}

	signed := delta
	if report.Side == domain.SideSell {
		signed = signed.Neg()
	}

	pos := l.positions[report.Symbol]
	pos.Symbol = report.Symbol
	pos.Exchange = report.Exchange

	newSize, newAvg, realized := foldFill(pos.Size, pos.AvgCost, signed, fillPrice.Decimal())
	pos.Size = newSize
	pos.AvgCost = newAvg
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.UpdatedAt = report.Timestamp
	l.positions[report.Symbol] = pos

	if !realized.IsZero() {
		day := report.Timestamp.UTC().Format(dayFormat)
		l.dailyPnL[day] = l.dailyPnL[day].Add(realized)
	}

	size := domain.NewSize(delta)
	trade := domain.TradeRecord{
		ID:          uuid.NewString(),
		OrderID:     report.OrderID,
		ClientID:    report.ClientID,
		Symbol:      report.Symbol,
		Exchange:    report.Exchange,
		Side:        report.Side,
		Price:       fillPrice,
		Size:        size,
		Notional:    fillPrice.Mul(size),
		RealizedPnL: realized,
		Timestamp:   report.Timestamp,
	}
	l.trades = append(l.trades, trade)

	l.logger.Debug("fill booked",
		slog.String("symbol", string(trade.Symbol)),
		slog.String("side", string(trade.Side)),
		slog.String("size", trade.Size.String()),
		slog.String("price", trade.Price.String()),
		slog.String("realized_pnl", trade.RealizedPnL.String()),
	)
	return &trade
}

// Trades returns a copy of the full trade log in booking order.
func (l *Ledger) Trades() []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.TradeRecord(nil), l.trades...)
}

// TradesBySymbol returns the booked trades for one symbol in booking order.
func (l *Ledger) TradesBySymbol(symbol domain.Symbol) []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.TradeRecord
	for _, t := range l.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// Position returns the ledger's derived position for the symbol.
func (l *Ledger) Position(symbol domain.Symbol) (domain.PositionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Positions returns all derived positions, including closed (zero-size) ones.
func (l *Ledger) Positions() []domain.PositionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PositionRecord, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	return out
}

// RealizedPnL returns the cumulative realized P&L for the symbol.
func (l *Ledger) RealizedPnL(symbol domain.Symbol) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[symbol].RealizedPnL
}

// DailyPnL returns the realized P&L booked on the UTC calendar day of t.
func (l *Ledger) DailyPnL(t time.Time) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyPnL[t.UTC().Format(dayFormat)]
}

// UnrealizedPnL marks the symbol's open position against the given price.
// The second return is false when the ledger holds no position.
func (l *Ledger) UnrealizedPnL(symbol domain.Symbol, mark domain.Price) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	return MarkToMarket(pos, mark), true
}

// MarkToMarket values an open position against a mark price. It is a pure
// function of its inputs: (mark - avg cost) * signed size.
func MarkToMarket(pos domain.PositionRecord, mark domain.Price) decimal.Decimal {
	if pos.Size.IsZero() {
		return decimal.Decimal{}
	}
	return mark.Decimal().Sub(pos.AvgCost).Mul(pos.Size)
}

// Unflushed returns trades booked since the last MarkFlushed call, for the
// persistence worker. The returned slice is a copy.
func (l *Ledger) Unflushed() []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.TradeRecord(nil), l.trades[l.flushed:]...)
}

// MarkFlushed records that the next n unflushed trades were persisted.
func (l *Ledger) MarkFlushed(n int) {
	l.mu.Lock()
	l.flushed += n
	if l.flushed > len(l.trades) {
		l.flushed = len(l.trades)
	}
	l.mu.Unlock()
}

// foldFill folds a signed fill into a signed position at weighted-average
// cost, returning the new size, new average cost, and realized P&L for the
// reducing portion. The cost resets to the fill price when the position
// crosses through zero and to zero when it closes flat.
func foldFill(size, avg, signedQty, price decimal.Decimal) (newSize, newAvg, realized decimal.Decimal) {
	newSize = size.Add(signedQty)

	switch {
	case size.IsZero():
		return newSize, price, decimal.Decimal{}

	case size.Sign() == signedQty.Sign():
		total := size.Abs().Add(signedQty.Abs())
		newAvg = avg.Mul(size.Abs()).Add(price.Mul(signedQty.Abs())).Div(total)
		return newSize, newAvg, decimal.Decimal{}

	case signedQty.Abs().Cmp(size.Abs()) <= 0:
		perUnit := price.Sub(avg)
		if size.Sign() < 0 {
			perUnit = perUnit.Neg()
		}
		realized = perUnit.Mul(signedQty.Abs())
		if newSize.IsZero() {
			return newSize, decimal.Decimal{}, realized
		}
		return newSize, avg, realized

	default:
		perUnit := price.Sub(avg)
		if size.Sign() < 0 {
			perUnit = perUnit.Neg()
		}
		realized = perUnit.Mul(size.Abs())
		return newSize, price, realized
	}
}
