package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditLog writes audit entries to the audit_log table.
type AuditLog struct {
	db *bun.DB
}

var _ AuditSink = (*AuditLog)(nil)

// NewAuditLogRepository returns an AuditSink over db.
func NewAuditLogRepository(db *bun.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Record implements AuditSink.
func (r *AuditLog) Record(ctx context.Context, entry AuditEntry) error {
	prepareAuditRow(&entry)
	_, err := r.db.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// RecordBatch implements AuditSink with a single insert.
func (r *AuditLog) RecordBatch(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]AuditEntry, len(entries))
	copy(rows, entries)
	for i := range rows {
		prepareAuditRow(&rows[i])
	}
	_, err := r.db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// ForResource returns the newest entries for resourceID.
func (r *AuditLog) ForResource(ctx context.Context, resourceID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []AuditEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("?TableAlias.resource_id = ?", resourceID).
		OrderExpr("?TableAlias.occurred_at DESC").
		Limit(limit).
		Scan(ctx)
	return entries, err
}

func prepareAuditRow(entry *AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ResourceType == "" {
		entry.ResourceType = ResourceTypeUser
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	entry.OccurredAt = entry.OccurredAt.UTC()
}
