package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/mktsim/mktsim/internal/blob/s3"
	"github.com/mktsim/mktsim/internal/cache/redis"
	"github.com/mktsim/mktsim/internal/config"
	"github.com/mktsim/mktsim/internal/domain"
	"github.com/mktsim/mktsim/internal/engine"
	"github.com/mktsim/mktsim/internal/service"
	"github.com/mktsim/mktsim/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores domain.Stores
	Tx     domain.TxRunner

	Quotes   domain.QuoteCache
	Limiter  domain.RateLimiter
	Locks    domain.LockManager
	Archiver domain.Archiver

	Orders      *service.OrderService
	Dividends   *service.DividendService
	Funding     *service.FundingService
	Commissions *service.CommissionService
	Instruments *service.InstrumentService

	EngineParams engine.Params
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Stores = postgres.NewStores(pool)
	deps.Tx = postgres.NewTxRunner(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Quotes = redis.NewQuoteCache(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 cold storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Stores.Ledger,
			deps.Stores.Orders,
			deps.Stores.Audit,
		)
	}

	// --- Services ---
	deps.EngineParams = engine.Params{
		MomentumRelease: decimal.NewFromFloat(cfg.Market.MomentumRelease),
		MomentumEpsilon: decimal.NewFromFloat(cfg.Market.MomentumEpsilon),
		StepFraction:    decimal.NewFromFloat(cfg.Market.StepFraction),
		NoisePercent:    decimal.NewFromFloat(cfg.Market.NoisePercent),
	}

	deps.Orders = service.NewOrderService(deps.Stores, deps.Tx, deps.Limiter, service.OrderConfig{
		DefaultFeePercent: decimal.NewFromFloat(cfg.Market.FeePercent),
		DirectRate:        decimal.NewFromFloat(cfg.Market.DirectRate),
		IndirectRate:      decimal.NewFromFloat(cfg.Market.IndirectRate),
		ImpactCoefficient: decimal.NewFromFloat(cfg.Market.ImpactCoefficient),
		ReferenceVolume:   decimal.NewFromFloat(cfg.Market.ReferenceVolume),
		RatePerSec:        cfg.Market.OrderRatePerSec,
	}, logger)
	deps.Dividends = service.NewDividendService(deps.Stores, deps.Tx, logger)
	deps.Funding = service.NewFundingService(deps.Stores, deps.Tx, service.FundingConfig{
		DepositTTL: time.Duration(cfg.Funding.DepositTTLMinutes) * time.Minute,
	}, logger)
	deps.Commissions = service.NewCommissionService(deps.Stores, deps.Tx, logger)
	deps.Instruments = service.NewInstrumentService(deps.Stores, deps.Tx, deps.Quotes, logger)

	return deps, cleanup, nil
}

// newEngine builds the tick engine with a time-seeded generator; publisher
// may be nil when no websocket hub is attached.
func newEngine(deps *Dependencies, publisher engine.QuotePublisher, logger *slog.Logger) *engine.Engine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return engine.New(deps.Stores, deps.Tx, deps.Quotes, publisher, deps.EngineParams, rng, logger)
}
