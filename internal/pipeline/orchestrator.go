// Package pipeline schedules the background work of the market: price ticks,
// dividend passes, deposit expiry sweeps, commission settlement, and cold
// storage archival. Tick-style jobs run on tickers; the daily and weekly jobs
// run on cron expressions. Every job that must run on a single node takes a
// distributed lock first.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/engine"
	"github.com/mktsim/mktsim/internal/service"
)

// Config carries the schedule for every background job.
type Config struct {
	TickInterval     time.Duration
	DividendInterval time.Duration
	ExpiryInterval   time.Duration
	SettlementCron   string
	ArchiveCron      string
	LockTTL          time.Duration
}

// Orchestrator manages all background goroutines.
type Orchestrator struct {
	engine      *engine.Engine
	dividends   *service.DividendService
	funding     *service.FundingService
	commissions *service.CommissionService
	archiver    *Archiver
	locks       domain.LockManager
	cfg         Config
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator coordinating all background jobs.
// locks may be nil for single-node deployments; archiver may be nil when no
// cold storage is configured.
func NewOrchestrator(
	eng *engine.Engine,
	dividends *service.DividendService,
	funding *service.FundingService,
	commissions *service.CommissionService,
	archiver *Archiver,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:      eng,
		dividends:   dividends,
		funding:     funding,
		commissions: commissions,
		archiver:    archiver,
		locks:       locks,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all jobs as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a non-context
// error, the errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("tick_interval", o.cfg.TickInterval),
		slog.Duration("dividend_interval", o.cfg.DividendInterval),
		slog.String("settlement_cron", o.cfg.SettlementCron),
		slog.String("archive_cron", o.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.tickerLoop(ctx, "price_tick", o.cfg.TickInterval, func(ctx context.Context) error {
			n, err := o.engine.TickPrices(ctx)
			if err == nil {
				o.logger.Debug("ticked prices", slog.Int("instruments", n))
			}
			return err
		})
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("price tick loop: %w", err)
	})

	g.Go(func() error {
		err := o.tickerLoop(ctx, "dividend_pass", o.cfg.DividendInterval, o.locked("jobs:dividend", func(ctx context.Context) error {
			_, err := o.dividends.RunDividendPass(ctx)
			return err
		}))
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dividend loop: %w", err)
	})

	g.Go(func() error {
		err := o.tickerLoop(ctx, "deposit_expiry", o.cfg.ExpiryInterval, func(ctx context.Context) error {
			_, err := o.funding.ExpireDeposits(ctx)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("deposit expiry loop: %w", err)
	})

	g.Go(func() error {
		err := o.cronLoop(ctx, o.cronJobs())
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("cron scheduler: %w", err)
	})

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// tickerLoop runs job immediately and then on every tick until ctx is done.
// Job failures are logged and the loop continues; only ctx cancellation ends
// it.
func (o *Orchestrator) tickerLoop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) error {
	run := func() {
		if err := job(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("job loop stopped", slog.String("job", name))
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

type cronJob struct {
	name string
	spec string
	run  func(context.Context) error
}

func (o *Orchestrator) cronJobs() []cronJob {
	jobs := []cronJob{
		{
			name: "commission_settlement",
			spec: o.cfg.SettlementCron,
			run: o.locked("jobs:settlement", func(ctx context.Context) error {
				_, err := o.commissions.RunSettlementPass(ctx)
				return err
			}),
		},
	}
	if o.archiver != nil {
		jobs = append(jobs, cronJob{
			name: "archive",
			spec: o.cfg.ArchiveCron,
			run:  o.locked("jobs:archive", o.archiver.Run),
		})
	}
	return jobs
}

// cronLoop registers the cron-scheduled jobs and blocks until ctx is done.
func (o *Orchestrator) cronLoop(ctx context.Context, jobs []cronJob) error {
	c := cron.New()

	for _, j := range jobs {
		j := j
		_, err := c.AddFunc(j.spec, func() {
			if err := j.run(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("job failed",
					slog.String("job", j.name),
					slog.String("error", err.Error()),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("registering %s with spec %q: %w", j.name, j.spec, err)
		}
		o.logger.Info("cron job registered",
			slog.String("job", j.name),
			slog.String("spec", j.spec),
		)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// locked wraps a job with the distributed lock so one node runs it at a time.
// A held lock means another node got there first; skip quietly.
func (o *Orchestrator) locked(key string, job func(context.Context) error) func(context.Context) error {
	if o.locks == nil {
		return job
	}
	ttl := o.cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return func(ctx context.Context) error {
		release, err := o.locks.Acquire(ctx, key, ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				o.logger.Debug("job skipped, lock held elsewhere", slog.String("lock", key))
				return nil
			}
			return err
		}
		defer release()
		return job(ctx)
	}
}
