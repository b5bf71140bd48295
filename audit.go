package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditAction enumerates audited operations.
type AuditAction string

const (
	AuditActionCreate       AuditAction = "CREATE"
	AuditActionUpdate       AuditAction = "UPDATE"
	AuditActionLogin        AuditAction = "LOGIN"
	AuditActionLogout       AuditAction = "LOGOUT"
	AuditActionTokenRefresh AuditAction = "TOKEN_REFRESH"
)

// ResourceTypeUser is the resource type of every entry this package writes.
const ResourceTypeUser = "USER"

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_log,alias:al"`

	ID           uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	Action       AuditAction    `bun:"action,notnull" json:"action"`
	ResourceType string         `bun:"resource_type,notnull" json:"resource_type"`
	ResourceID   string         `bun:"resource_id" json:"resource_id,omitempty"`
	Success      bool           `bun:"success,notnull" json:"success"`
	ErrorMessage string         `bun:"error_message" json:"error_message,omitempty"`
	OldValues    map[string]any `bun:"old_values" json:"old_values,omitempty"`
	NewValues    map[string]any `bun:"new_values" json:"new_values,omitempty"`
	Metadata     map[string]any `bun:"metadata" json:"metadata,omitempty"`
	ActorID      string         `bun:"actor_id" json:"actor_id,omitempty"`
	IPAddress    string         `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string         `bun:"user_agent" json:"user_agent,omitempty"`
	OccurredAt   time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// AuditSink consumes audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
	RecordBatch(ctx context.Context, entries []AuditEntry) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, entry AuditEntry) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, entry AuditEntry) error {
	if f == nil {
		return nil
	}
	return f(ctx, entry)
}

// RecordBatch implements AuditSink by recording entries one by one.
func (f AuditSinkFunc) RecordBatch(ctx context.Context, entries []AuditEntry) error {
	for _, entry := range entries {
		if err := f.Record(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// MultiAuditSink fans entries out to every sink, returning the first error.
type MultiAuditSink []AuditSink

// Record implements AuditSink.
func (m MultiAuditSink) Record(ctx context.Context, entry AuditEntry) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordBatch implements AuditSink.
func (m MultiAuditSink) RecordBatch(ctx context.Context, entries []AuditEntry) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordBatch(ctx, entries); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditEntry) error {
	return nil
}

func (noopAuditSink) RecordBatch(context.Context, []AuditEntry) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// AuditRecorder wraps a sink so recording never fails the caller. Sink
// errors are logged and dropped.
type AuditRecorder struct {
	sink   AuditSink
	logger Logger
	now    func() time.Time
}

// NewAuditRecorder wraps sink. A nil sink discards entries.
func NewAuditRecorder(sink AuditSink, logger Logger) *AuditRecorder {
	if logger == nil {
		logger = defLogger{}
	}
	return &AuditRecorder{
		sink:   normalizeAuditSink(sink),
		logger: logger,
		now:    time.Now,
	}
}

// Record fills ID, ResourceType and OccurredAt when missing and hands the
// entry to the sink.
func (r *AuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	entry = r.prepare(entry)
	if err := r.sink.Record(ctx, entry); err != nil {
		r.logger.Warn("audit record failed",
			"action", entry.Action,
			"resource_id", entry.ResourceID,
			"error", err,
		)
	}
}

// RecordBatch records entries in one sink call.
func (r *AuditRecorder) RecordBatch(ctx context.Context, entries []AuditEntry) {
	if len(entries) == 0 {
		return
	}
	prepared := make([]AuditEntry, len(entries))
	for i, entry := range entries {
		prepared[i] = r.prepare(entry)
	}
	if err := r.sink.RecordBatch(ctx, prepared); err != nil {
		r.logger.Warn("audit batch failed", "count", len(prepared), "error", err)
	}
}

func (r *AuditRecorder) prepare(entry AuditEntry) AuditEntry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ResourceType == "" {
		entry.ResourceType = ResourceTypeUser
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	return entry
}
