package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Validator reports whether a component was wired completely.
type Validator interface {
	Validate() error
	MustValidate()
}

// TransactionManager runs f inside a database transaction, committing when
// f returns nil and rolling back otherwise.
type TransactionManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// AccountCreatorTx creates accounts inside a caller supplied transaction.
type AccountCreatorTx interface {
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
}

// OrganizationCreatorTx creates organizations inside a caller supplied
// transaction.
type OrganizationCreatorTx interface {
	CreateOrganizationTx(ctx context.Context, tx bun.IDB, name string) (*Organization, error)
}

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validator
	TransactionManager
	Accounts() Accounts
	Organizations() Organizations
	LoginAttempts() *LoginAttempts
	PasswordHistory() *PasswordHistoryRepository
	AuditLog() *AuditLog
	Migrate(ctx context.Context) error
}

type mngr struct {
	db              *bun.DB
	accounts        Accounts
	organizations   Organizations
	loginAttempts   *LoginAttempts
	passwordHistory *PasswordHistoryRepository
	auditLog        *AuditLog
}

// NewRepositoryManager wires every bun repository over db. hasher is used
// by the password history reuse check.
func NewRepositoryManager(db *bun.DB, hasher PasswordHasher) RepositoryManager {
	return &mngr{
		db:              db,
		accounts:        NewAccountsRepository(db),
		organizations:   NewOrganizationsRepository(db),
		loginAttempts:   NewLoginAttemptsRepository(db),
		passwordHistory: NewPasswordHistoryRepository(db, hasher, DefaultPasswordHistoryDepth),
		auditLog:        NewAuditLogRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.organizations == nil {
		return errors.New("repository organizations should be initialized")
	}

	if m.loginAttempts == nil || m.passwordHistory == nil || m.auditLog == nil {
		return errors.New("security repositories should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// Migrate creates every table and index that does not exist yet.
func (m mngr) Migrate(ctx context.Context) error {
	models := []any{
		(*Organization)(nil),
		(*Account)(nil),
		(*LoginAttempt)(nil),
		(*PasswordHistoryEntry)(nil),
		(*AuditEntry)(nil),
	}

	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range models {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}

		indexes := []struct {
			model   any
			name    string
			columns []string
		}{
			{(*LoginAttempt)(nil), "idx_login_attempts_email_time", []string{"email", "occurred_at"}},
			{(*LoginAttempt)(nil), "idx_login_attempts_ip_time", []string{"ip_address", "occurred_at"}},
			{(*PasswordHistoryEntry)(nil), "idx_password_history_account", []string{"account_id", "created_at"}},
			{(*AuditEntry)(nil), "idx_audit_log_resource", []string{"resource_id", "occurred_at"}},
		}
		for _, idx := range indexes {
			_, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				Column(idx.columns...).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Organizations() Organizations {
	return m.organizations
}

func (m mngr) LoginAttempts() *LoginAttempts {
	return m.loginAttempts
}

func (m mngr) PasswordHistory() *PasswordHistoryRepository {
	return m.passwordHistory
}

func (m mngr) AuditLog() *AuditLog {
	return m.auditLog
}
