package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/engine"
	"github.com/quantship/tradelife/internal/notify"
	"github.com/quantship/tradelife/internal/oracle"
	"github.com/quantship/tradelife/internal/server"
	"github.com/quantship/tradelife/internal/server/handler"
	"github.com/quantship/tradelife/internal/service"
)

// MonitorMode runs the lifecycle engine without the HTTP API: the monitor
// loop, the price feed, the notification consumer, and the archiver.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startEngine(ctx, g, deps); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	a.startBackground(ctx, g, deps)

	return g.Wait()
}

// ServerMode runs only the HTTP API plus the notification consumer. Another
// instance is expected to run the monitor loop.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)
	a.startBackground(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything in one process: engine, HTTP API, price feed,
// notifications, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startEngine(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startBackground(ctx, g, deps)

	return g.Wait()
}

// riskPolicy converts the risk config section into the domain policy.
func (a *App) riskPolicy() domain.RiskPolicy {
	breakeven := domain.BreakevenIgnores
	if a.cfg.Risk.BreakevenPolicy == "reset" {
		breakeven = domain.BreakevenResets
	}
	return domain.RiskPolicy{
		ConsecutiveLossLimit: a.cfg.Risk.ConsecutiveLossLimit,
		BreakevenEpsilonR:    a.cfg.Risk.BreakevenEpsilonR,
		Breakeven:            breakeven,
	}
}

// startEngine builds the evaluator and monitor from config and adds the
// monitor loop plus the websocket price feed to the errgroup.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	policy := engine.Policy{
		TP1Fraction:    a.cfg.Engine.TP1ClosedFraction,
		TP2Fraction:    a.cfg.Engine.TP2ClosedFraction,
		TrailDistanceR: a.cfg.Engine.TrailDistanceR,
		Risk:           a.riskPolicy(),
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	// Pull fallback for symbols the feed has not warmed yet. Pulled quotes
	// are written back to the cache.
	var source domain.PriceSource
	if a.cfg.Oracle.HTTPBaseURL != "" {
		source = oracle.New(deps.Prices, oracle.NewHTTPClient(
			a.cfg.Oracle.HTTPBaseURL,
			a.cfg.Oracle.APIKey,
			a.cfg.Oracle.HTTPTimeout.Duration,
		))
	}

	var locks domain.LockManager
	if a.cfg.Engine.DistributedLock {
		locks = deps.Locks
	}

	monitor := engine.NewMonitor(
		engine.MonitorConfig{
			Interval:          a.cfg.Engine.Interval.Duration,
			PriceTimeout:      a.cfg.Engine.PriceTimeout.Duration,
			Concurrency:       a.cfg.Engine.Concurrency,
			MissWarnThreshold: a.cfg.Engine.MissWarnThreshold,
			LockTTL:           a.cfg.Engine.LockTTL.Duration,
		},
		engine.NewEvaluator(policy),
		policy.Risk,
		engine.MonitorDeps{
			Tx:        deps.Tx,
			Positions: deps.Positions,
			Prices:    deps.Prices,
			Source:    source,
			Bus:       deps.Bus,
			Locks:     locks,
		},
		a.logger,
	)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	if a.cfg.Oracle.WSURL != "" && len(a.cfg.Oracle.Symbols) > 0 {
		feed := oracle.NewWSFeed(a.cfg.Oracle.WSURL, a.cfg.Oracle.Symbols, deps.Prices, a.logger)
		g.Go(func() error {
			defer feed.Close()
			return feed.Run(ctx)
		})
	}

	return nil
}

// startBackground adds the notification consumer and, when enabled, the
// archiver loop to the errgroup.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	consumer := notify.NewConsumer(deps.Bus, "trade-events", deps.Notifier, a.logger)
	g.Go(func() error {
		err := consumer.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}
}

// startHTTPServer builds the services and handlers and adds the HTTP server
// plus its graceful-shutdown watcher to the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	signalSvc := service.NewSignalService(deps.Tx, deps.Positions, deps.Events, deps.Ledgers, deps.Bus, a.logger)
	riskSvc := service.NewRiskService(deps.Tx, deps.Ledgers, deps.Bus, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Signals:   handler.NewSignalHandler(signalSvc, a.logger),
		Positions: handler.NewPositionHandler(signalSvc, a.logger),
		Events:    handler.NewEventHandler(signalSvc, deps.Bus, a.logger),
		Ledger:    handler.NewLedgerHandler(riskSvc, a.logger),
		Pause:     handler.NewPauseHandler(riskSvc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
