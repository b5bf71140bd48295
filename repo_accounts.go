package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the bun backed AccountStore.
type Accounts interface {
	AccountStore
	AccountCreatorTx
}

type accounts struct {
	repo repository.Repository[*Account]
	db   *bun.DB
	now  func() time.Time
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns an Accounts store over db.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{repo: repo, db: db, now: time.Now}
}

func (r *accounts) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.findByID(ctx, r.db, id)
}

func (r *accounts) findByID(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	return r.findOne(ctx, tx, "?TableAlias.id = ?", id)
}

func (r *accounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.FindByEmailTx(ctx, r.db, email)
}

func (r *accounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return r.findOne(ctx, tx, "?TableAlias.email = ?", NormalizeEmail(email))
}

func (r *accounts) FindByVerificationToken(ctx context.Context, tokenHash string) (*Account, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.findOne(ctx, r.db, "?TableAlias.email_verification_token = ?", tokenHash)
}

func (r *accounts) FindByPasswordResetToken(ctx context.Context, tokenHash string) (*Account, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.findOne(ctx, r.db, "?TableAlias.password_reset_token = ?", tokenHash)
}

func (r *accounts) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.db.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (r *accounts) Create(ctx context.Context, account *Account) (*Account, error) {
	return r.CreateTx(ctx, r.db, account)
}

func (r *accounts) CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	now := r.now()
	account.Email = NormalizeEmail(account.Email)
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt == nil {
		account.CreatedAt = &now
	}
	account.UpdatedAt = &now
	account.Version = 1

	created, err := r.repo.CreateTx(ctx, tx, account)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return created, nil
}

func (r *accounts) Save(ctx context.Context, account *Account) (*Account, error) {
	return r.save(ctx, r.db, account)
}

// save writes every column of account if its version still matches the
// stored one, and bumps the version. A stale version yields ErrConcurrentUpdate.
func (r *accounts) save(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if account == nil || account.ID == uuid.Nil {
		return nil, ErrAccountNotFound
	}

	now := r.now()
	record := *account
	record.Version = account.Version + 1
	record.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(&record).
		ExcludeColumn("id", "created_at").
		WherePK().
		Where("?TableAlias.version = ?", account.Version).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrConcurrentUpdate.Clone().WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"version":    account.Version,
		})
	}

	return &record, nil
}

func (r *accounts) findOne(ctx context.Context, tx bun.IDB, where string, args ...any) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().Model(record).Where(where, args...).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
