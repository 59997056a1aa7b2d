package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mktsim/mktsim/internal/engine"
	"github.com/mktsim/mktsim/internal/pipeline"
	"github.com/mktsim/mktsim/internal/server"
	"github.com/mktsim/mktsim/internal/server/handler"
	"github.com/mktsim/mktsim/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// quotePublisher avoids handing the engine a typed nil when no hub runs in
// this process.
func quotePublisher(hub *ws.Hub) engine.QuotePublisher {
	if hub == nil {
		return nil
	}
	return hub
}

// ServeMode runs the HTTP + WebSocket API without background jobs. Useful
// when a separate node runs the engine.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// EngineMode runs only the background jobs: price ticks, dividends, expiry
// sweeps, settlement, and archival. Quotes still reach clients through the
// shared cache; no API is served.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startOrchestrator(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs the API and all background jobs in one process, with the
// websocket hub fed directly by the tick engine.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := a.startHTTPServer(ctx, g, deps)
	a.startOrchestrator(ctx, g, deps, hub)

	return g.Wait()
}

// startHTTPServer adds the API server and websocket hub to the errgroup and
// returns the hub so the engine can publish quotes into it.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) *ws.Hub {
	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); ctx.Err() == nil {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Instruments: handler.NewInstrumentHandler(deps.Stores.Instruments, deps.Instruments, deps.Quotes, a.logger),
		Orders:      handler.NewOrderHandler(deps.Orders, deps.Stores.Orders, a.logger),
		Accounts:    handler.NewAccountHandler(deps.Stores.Accounts, deps.Stores.Holdings, deps.Stores.Ledger, a.logger),
		Funding:     handler.NewFundingHandler(deps.Funding, deps.Stores.Deposits, deps.Stores.Withdrawals, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return hub
}

// startOrchestrator adds the background job scheduler to the errgroup.
// publisher may be nil when no hub runs in this process.
func (a *App) startOrchestrator(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	eng := newEngine(deps, quotePublisher(hub), a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.S3.RetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(
		eng,
		deps.Dividends,
		deps.Funding,
		deps.Commissions,
		archiver,
		deps.Locks,
		pipeline.Config{
			TickInterval:     a.cfg.Pipeline.TickInterval.Duration,
			DividendInterval: a.cfg.Pipeline.DividendInterval.Duration,
			ExpiryInterval:   a.cfg.Pipeline.ExpiryInterval.Duration,
			SettlementCron:   a.cfg.Pipeline.SettlementCron,
			ArchiveCron:      a.cfg.Pipeline.ArchiveCron,
		},
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}
