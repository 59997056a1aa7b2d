package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mktsim/mktsim/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Administrative
// actions (price adjustments, strategy changes, funding reviews) are logged
// here with their full detail payload.
type AuditStore struct {
	db DB
}

// NewAuditStore creates a new AuditStore backed by the given DB handle.
func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends one audit row with the detail serialized as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode audit detail: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES ($1, $2, $3)`,
		event, detailJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: audit log %s: %w", event, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
