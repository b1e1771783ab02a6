package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/engine"
	"github.com/dkoval/gotrader/internal/executor"
	"github.com/dkoval/gotrader/internal/feed"
	"github.com/dkoval/gotrader/internal/ledger"
	"github.com/dkoval/gotrader/internal/notify"
	"github.com/dkoval/gotrader/internal/orders"
	"github.com/dkoval/gotrader/internal/pipeline"
	"github.com/dkoval/gotrader/internal/ratelimit"
	"github.com/dkoval/gotrader/internal/risk"
	"github.com/dkoval/gotrader/internal/server"
	"github.com/dkoval/gotrader/internal/server/handler"
	"github.com/dkoval/gotrader/internal/strategy"
	"github.com/dkoval/gotrader/internal/venue/paper"
)

// instanceLockTTL bounds how long a crashed live instance blocks a
// replacement; the lock manager renews it while the holder is alive.
const instanceLockTTL = 30 * time.Second

// LiveMode runs the trading pipeline against the live market feed. When redis
// is available it first takes the per-exchange instance lock so two live
// engines never trade the same account.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, "engine:"+a.cfg.Venue.Exchange, instanceLockTTL)
		if err != nil {
			return fmt.Errorf("app: acquire instance lock: %w", err)
		}
		defer unlock()
	}

	return a.runEngine(ctx, deps)
}

// PaperMode runs the same pipeline, but fills stay inside the in-memory
// venue. The market feed is still the real one, so paper results track live
// conditions.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps)
}

// runEngine builds the full execution pipeline and runs its goroutines until
// the context is cancelled or the event loop stops.
//
// The built-in venue is the paper simulator; real exchange adapters plug in
// behind domain.VenueClient.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	if cfg.Feed.URL == "" {
		return fmt.Errorf("app: feed url is required to run the engine")
	}

	symbols := make([]domain.Symbol, 0, len(cfg.Engine.Symbols))
	for _, s := range cfg.Engine.Symbols {
		symbols = append(symbols, domain.Symbol(s))
	}

	// Core pipeline state.
	riskEngine := risk.NewEngine(a.riskLimits(), a.logger)
	led := ledger.New(a.logger)
	manager := orders.NewManager(deps.OrderStore, a.logger)

	balances := make(map[string]decimal.Decimal, len(cfg.Venue.StartingBalances))
	for asset, amount := range cfg.Venue.StartingBalances {
		balances[asset] = decimal.NewFromFloat(amount)
	}
	venue := paper.New(balances, a.logger)

	// Prefer the redis limiter: it holds the venue budget across instances.
	var limiter executor.RateLimiter
	if deps.Limiter != nil {
		limiter = &venueLimiter{
			rl:     deps.Limiter,
			key:    "venue:" + cfg.Venue.Exchange,
			limit:  cfg.Venue.RateLimit,
			window: cfg.Venue.RateWindow.Duration,
		}
	} else {
		limiter = ratelimit.NewAdaptive(
			cfg.Venue.RateLimit,
			cfg.Venue.RateWindow.Duration,
			cfg.Venue.AdaptiveCooldown.Duration,
		)
	}

	exec := executor.New(venue, manager, led, riskEngine, limiter, a.executorConfig(), a.logger)

	registry, strategyNames := a.buildStrategies()

	source := feed.NewWSSource(cfg.Feed.URL, a.logger)
	if err := source.Connect(ctx); err != nil {
		return fmt.Errorf("app: feed connect: %w", err)
	}
	defer source.Close()

	// The paper venue always consumes marks (it fills resting orders off
	// them); the redis sink additionally publishes them for reporting.
	marks := []engine.MarkSink{venue}
	if deps.MarkSink != nil {
		marks = append(marks, deps.MarkSink)
	}

	perf := engine.NewPerf()
	loop := engine.NewLoop(source, registry, exec, perf, engine.LoopConfig{
		Symbols:              symbols,
		BookDepth:            cfg.Engine.BookDepth,
		StrategyInterval:     cfg.Engine.StrategyInterval.Duration,
		OrderCheckInterval:   cfg.Engine.OrderCheckInterval.Duration,
		PerfReportInterval:   cfg.Engine.PerfReportInterval.Duration,
		MaxConsecutiveErrors: cfg.Engine.MaxConsecutiveErrors,
		ErrorRecoveryDelay:   cfg.Engine.ErrorRecoveryDelay.Duration,
	}, a.logger, marks...)

	monitor := engine.NewRiskMonitor(
		riskEngine, led, exec, venue, deps.Notifier,
		cfg.Engine.RiskMonitorInterval.Duration, a.logger,
	)

	// The loop is the anchor goroutine: when it returns, everything else
	// winds down through the cancelled context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		err := loop.Run(gctx)
		if err != nil {
			_ = deps.Notifier.Notify(context.Background(), notify.EventEngineStopped,
				"Engine stopped", err.Error())
		}
		return err
	})

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	if deps.TradeStore != nil && deps.PositionStore != nil {
		persister := ledger.NewPersister(
			led, deps.TradeStore, deps.PositionStore,
			cfg.Engine.PersistInterval.Duration, a.logger,
		)
		g.Go(func() error {
			return persister.Run(gctx)
		})
	}

	if deps.MarkSink != nil {
		g.Go(func() error {
			return deps.MarkSink.Run(gctx)
		})
	}

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.TradeStore, cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(gctx, cfg.Archive.Cron)
		})
	}

	if cfg.Server.Enabled {
		a.startHTTPServer(g, gctx, deps, loop, perf, manager, led, strategyNames)
	}

	return g.Wait()
}

// startHTTPServer adds the read-only status API goroutines to the group: one
// serving, one shutting the listener down when the context ends.
func (a *App) startHTTPServer(
	g *errgroup.Group,
	ctx context.Context,
	deps *Dependencies,
	loop *engine.Loop,
	perf *engine.Perf,
	manager *orders.Manager,
	led *ledger.Ledger,
	strategies []string,
) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler(a.cfg.Mode, strategies, loop, perf),
		Orders:    handler.NewOrderHandler(manager),
		Positions: handler.NewPositionHandler(led),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// buildStrategies registers the enabled strategies and returns their names
// for status reporting.
func (a *App) buildStrategies() (*strategy.Registry, []string) {
	registry := strategy.NewRegistry()

	if sc := a.cfg.Strategy.Spread; sc.Enabled {
		registry.Register(strategy.NewSpreadCapture(strategy.SpreadConfig{
			Exchange:  a.cfg.Venue.Exchange,
			MinSpread: domain.NewPrice(decimal.NewFromFloat(sc.MinSpread)),
			OrderSize: domain.NewSize(decimal.NewFromFloat(sc.OrderSize)),
			Cooldown:  sc.Cooldown.Duration,
		}, a.logger))
	}
	if mc := a.cfg.Strategy.MeanReversion; mc.Enabled {
		registry.Register(strategy.NewMeanReversion(strategy.MeanReversionConfig{
			Exchange:  a.cfg.Venue.Exchange,
			Window:    mc.Window,
			Threshold: decimal.NewFromFloat(mc.Threshold),
			OrderSize: domain.NewSize(decimal.NewFromFloat(mc.OrderSize)),
		}, a.logger))
	}

	return registry, registry.Names()
}

// riskLimits converts the configured limit set to the risk engine's decimals.
func (a *App) riskLimits() risk.Limits {
	r := a.cfg.Risk
	limits := risk.Limits{
		MaxOrderSize:    symbolDecimalMap(r.MaxOrderSize),
		MaxPositionSize: symbolDecimalMap(r.MaxPositionSize),
		MaxDailyLoss:    symbolDecimalMap(r.MaxDailyLoss),
		MaxOrderValue:   decimal.NewFromFloat(r.MaxOrderValue),
		MaxExposure:     decimal.NewFromFloat(r.MaxExposure),
		MaxOpenOrders:   r.MaxOpenOrders,
	}
	if len(r.MinFreeBalance) > 0 {
		limits.MinFreeBalance = make(map[string]decimal.Decimal, len(r.MinFreeBalance))
		for asset, v := range r.MinFreeBalance {
			limits.MinFreeBalance[asset] = decimal.NewFromFloat(v)
		}
	}
	return limits
}

// executorConfig converts the configured submission parameters.
func (a *App) executorConfig() executor.Config {
	e := a.cfg.Executor
	cfg := executor.Config{
		OrderTimeout:       e.OrderTimeout.Duration,
		CancelOnTimeout:    e.CancelOnTimeout,
		MaxRetries:         e.MaxRetries,
		RetryDelay:         e.RetryDelay.Duration,
		ExponentialBackoff: e.ExponentialBackoff,
	}
	if len(e.SplitThreshold) > 0 {
		cfg.SplitThreshold = make(map[domain.Symbol]domain.Size, len(e.SplitThreshold))
		for sym, v := range e.SplitThreshold {
			cfg.SplitThreshold[domain.Symbol(sym)] = domain.NewSize(decimal.NewFromFloat(v))
		}
	}
	return cfg
}

func symbolDecimalMap(src map[string]float64) map[domain.Symbol]decimal.Decimal {
	if len(src) == 0 {
		return nil
	}
	out := make(map[domain.Symbol]decimal.Decimal, len(src))
	for sym, v := range src {
		out[domain.Symbol(sym)] = decimal.NewFromFloat(v)
	}
	return out
}

// venueLimiter adapts the distributed keyed limiter to the executor's
// per-venue limiter interface.
type venueLimiter struct {
	rl     domain.DistributedRateLimiter
	key    string
	limit  int
	window time.Duration
}

func (v *venueLimiter) Allow() bool {
	ok, err := v.rl.Allow(context.Background(), v.key, v.limit, v.window)
	if err != nil {
		// Fail open: the venue's own throttling is the backstop, and a
		// redis blip must not freeze order flow.
		return true
	}
	return ok
}

func (v *venueLimiter) Wait(ctx context.Context) error {
	return v.rl.Wait(ctx, v.key, v.limit, v.window)
}
