package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// DefaultLoginHistoryWindow bounds how far back RecentAttempts looks.
	DefaultLoginHistoryWindow = 6 * time.Hour
	// DefaultLoginHistoryLimit bounds how many attempts RecentAttempts returns.
	DefaultLoginHistoryLimit = 500
)

// LoginAttempts stores login attempts and serves them as LoginHistory.
type LoginAttempts struct {
	db     *bun.DB
	window time.Duration
	limit  int
	now    func() time.Time
}

var (
	_ LoginHistory         = (*LoginAttempts)(nil)
	_ LoginAttemptRecorder = (*LoginAttempts)(nil)
)

// NewLoginAttemptsRepository returns a LoginAttempts store over db.
func NewLoginAttemptsRepository(db *bun.DB) *LoginAttempts {
	return &LoginAttempts{
		db:     db,
		window: DefaultLoginHistoryWindow,
		limit:  DefaultLoginHistoryLimit,
		now:    time.Now,
	}
}

// WithWindow sets the recency window.
func (r *LoginAttempts) WithWindow(window time.Duration) *LoginAttempts {
	if window > 0 {
		r.window = window
	}
	return r
}

// WithClock sets the clock used to compute the window start.
func (r *LoginAttempts) WithClock(clock func() time.Time) *LoginAttempts {
	if clock != nil {
		r.now = clock
	}
	return r
}

// RecordAttempt implements LoginAttemptRecorder.
func (r *LoginAttempts) RecordAttempt(ctx context.Context, attempt LoginAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.OccurredAt.IsZero() {
		attempt.OccurredAt = r.now()
	}
	attempt.Email = NormalizeEmail(attempt.Email)
	attempt.OccurredAt = attempt.OccurredAt.UTC()

	_, err := r.db.NewInsert().Model(&attempt).Exec(ctx)
	return err
}

// RecentAttempts implements LoginHistory. It returns attempts for email or
// ipAddress inside the window, newest first.
func (r *LoginAttempts) RecentAttempts(ctx context.Context, email, ipAddress string) ([]LoginAttempt, error) {
	email = NormalizeEmail(email)
	since := r.now().Add(-r.window).UTC()

	var attempts []LoginAttempt
	q := r.db.NewSelect().
		Model(&attempts).
		Where("?TableAlias.occurred_at >= ?", since).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("?TableAlias.email = ?", email)
			if ipAddress != "" {
				q = q.WhereOr("?TableAlias.ip_address = ?", ipAddress)
			}
			return q
		}).
		OrderExpr("?TableAlias.occurred_at DESC").
		Limit(r.limit)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return attempts, nil
}

// Purge deletes attempts older than before.
func (r *LoginAttempts) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*LoginAttempt)(nil)).
		Where("?TableAlias.occurred_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
