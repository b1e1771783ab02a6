package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkoval/gotrader/internal/domain"
)

// MeanReversionConfig tunes the mean-reversion strategy.
type MeanReversionConfig struct {
	Exchange  string
	Window    int             // number of mid prices in the rolling mean
	Threshold decimal.Decimal // fractional deviation from the mean that triggers
	OrderSize domain.Size
}

// MeanReversion tracks a rolling mean of the mid price per symbol and fades
// moves that stretch a configured fraction away from it: it buys dips below
// the mean and sells pops above it.
type MeanReversion struct {
	cfg    MeanReversionConfig
	logger *slog.Logger

	mu   sync.Mutex
	mids map[domain.Symbol][]decimal.Decimal
}

// NewMeanReversion creates the strategy. Window defaults to 20 samples.
func NewMeanReversion(cfg MeanReversionConfig, logger *slog.Logger) *MeanReversion {
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	return &MeanReversion{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy"), slog.String("strategy", "mean_reversion")),
		mids:   make(map[domain.Symbol][]decimal.Decimal),
	}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) GenerateSignal(_ context.Context, state domain.MarketState) (*domain.Signal, error) {
	if state.BestBid == nil || state.BestAsk == nil {
		return nil, nil
	}
	mid := state.BestBid.Price.Decimal().Add(state.BestAsk.Price.Decimal()).Div(decimal.NewFromInt(2))

	s.mu.Lock()
	window := append(s.mids[state.Symbol], mid)
	if len(window) > s.cfg.Window {
		window = window[len(window)-s.cfg.Window:]
	}
	s.mids[state.Symbol] = window
	full := len(window) == s.cfg.Window
	mean := decimal.Decimal{}
	if full {
		for _, m := range window {
			mean = mean.Add(m)
		}
		mean = mean.Div(decimal.NewFromInt(int64(len(window))))
	}
	s.mu.Unlock()

	if !full || mean.IsZero() {
		return nil, nil
	}

	deviation := mid.Sub(mean).Div(mean)
	var side domain.Side
	var price domain.Price
	switch {
	case deviation.LessThanOrEqual(s.cfg.Threshold.Neg()):
		side, price = domain.SideBuy, state.BestBid.Price
	case deviation.GreaterThanOrEqual(s.cfg.Threshold):
		side, price = domain.SideSell, state.BestAsk.Price
	default:
		return nil, nil
	}

	order := domain.NewOrder{
		Symbol:      state.Symbol,
		Exchange:    s.cfg.Exchange,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TIFGoodTillCancelled,
		Price:       &price,
		Size:        s.cfg.OrderSize,
	}
	s.logger.Debug("mid stretched from mean, fading",
		slog.String("symbol", string(state.Symbol)),
		slog.String("deviation", deviation.String()),
		slog.String("side", string(side)),
	)
	return &domain.Signal{
		ID:        uuid.NewString(),
		Source:    s.Name(),
		Kind:      domain.SignalPlaceOrder,
		Symbol:    state.Symbol,
		Order:     &order,
		Reason:    "mid deviates " + deviation.String() + " from rolling mean",
		CreatedAt: time.Now(),
	}, nil
}
