package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordHistoryRepository keeps previous password hashes per account.
type PasswordHistoryRepository struct {
	db       *bun.DB
	verifier *CredentialVerifier
	keep     int
	now      func() time.Time
}

var _ PasswordHistory = (*PasswordHistoryRepository)(nil)

// NewPasswordHistoryRepository returns a PasswordHistory over db. Only the
// newest keep entries per account are retained.
func NewPasswordHistoryRepository(db *bun.DB, hasher PasswordHasher, keep int) *PasswordHistoryRepository {
	if keep <= 0 {
		keep = DefaultPasswordHistoryDepth
	}
	return &PasswordHistoryRepository{
		db:       db,
		verifier: NewCredentialVerifier(hasher),
		keep:     keep,
		now:      time.Now,
	}
}

// IsReused reports whether password matches one of the depth newest hashes.
func (r *PasswordHistoryRepository) IsReused(ctx context.Context, accountID uuid.UUID, password string, depth int) (bool, error) {
	if depth <= 0 {
		return false, nil
	}

	var entries []PasswordHistoryEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("?TableAlias.account_id = ?", accountID).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(depth).
		Scan(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if r.verifier.Verify(password, entry.PasswordHash) {
			return true, nil
		}
	}
	return false, nil
}

// Remember stores passwordHash and prunes entries beyond the retention.
func (r *PasswordHistoryRepository) Remember(ctx context.Context, accountID uuid.UUID, passwordHash string) error {
	entry := &PasswordHistoryEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		PasswordHash: passwordHash,
		CreatedAt:    r.now().UTC(),
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
			return err
		}

		var entries []PasswordHistoryEntry
		err := tx.NewSelect().
			Model(&entries).
			Column("id").
			Where("?TableAlias.account_id = ?", accountID).
			OrderExpr("?TableAlias.created_at DESC").
			Scan(ctx)
		if err != nil || len(entries) <= r.keep {
			return err
		}

		ids := make([]uuid.UUID, 0, len(entries)-r.keep)
		for _, e := range entries[r.keep:] {
			ids = append(ids, e.ID)
		}
		_, err = tx.NewDelete().
			Model((*PasswordHistoryEntry)(nil)).
			Where("?TableAlias.id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
}

// WithClock sets the clock used to timestamp entries.
func (r *PasswordHistoryRepository) WithClock(clock func() time.Time) *PasswordHistoryRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}
