package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mktsim/mktsim/internal/domain"
)

// Narrow store interfaces: the archiver only needs the time-ranged reads it
// actually calls. The Postgres stores satisfy them implicitly.

// LedgerArchiveStore provides read access to ledger entries for archival.
type LedgerArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error)
}

// OrderArchiveStore provides read access to orders for archival.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// ArchiveImpl implements domain.Archiver: it serializes aged records to JSONL,
// uploads them, and verifies the object landed before reporting success.
//
// Deleting the archived rows from the primary store is a separate explicit
// step run after the archive has been verified; it is not done here.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	ledger LedgerArchiveStore
	orders OrderArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	ledger LedgerArchiveStore,
	orders OrderArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		ledger: ledger,
		orders: orders,
		audit:  audit,
	}
}

// ArchiveLedger uploads all ledger entries before the cutoff to
// archive/ledger/YYYY-MM.jsonl and returns how many were archived.
func (a *ArchiveImpl) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.ledger.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	return archiveRecords(ctx, a, "ledger", before, entries)
}

// ArchiveOrders uploads all orders before the cutoff to
// archive/orders/YYYY-MM.jsonl and returns how many were archived.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archiveRecords(ctx, a, "orders", before, orders)
}

// archiveRecords serializes, uploads, verifies, and audits one batch.
func archiveRecords[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s verify: %s missing after upload", kind, path)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/ledger/2026-08.jsonl
//	archive/orders/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact line
// per element.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
