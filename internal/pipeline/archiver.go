package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mktsim/mktsim/internal/domain"
)

// Archiver moves aged ledger entries and orders to blob cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run, moving ledger entries and orders older
// than the retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	ledgerArchived, err := a.blobArchiver.ArchiveLedger(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving ledger before %v: %w", cutoff, err)
	}

	ordersArchived, err := a.blobArchiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving orders before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("ledger_archived", ledgerArchived),
		slog.Int64("orders_archived", ordersArchived),
	)
	return nil
}
