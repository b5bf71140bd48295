package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Unlock clears the lock and failure counter of accountID regardless of the
// lock expiry and returns the failure count it replaced. LockoutCount is
// kept so later lockouts keep escalating. Callers must be privileged.
func (a *Authenticator) Unlock(ctx context.Context, rc RequestContext, accountID uuid.UUID) (int, error) {
	select {
	case <-ctx.Done():
		return 0, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account unlock")
	default:
	}

	account, err := a.accounts.FindByID(ctx, accountID)
	if err != nil {
		return 0, internalError(err, "failed to load account for unlock")
	}
	if account == nil {
		return 0, ErrAccountNotFound
	}

	before := account.securitySnapshot()
	now := a.now()

	var prior int
	account, err = a.mutate(ctx, account, func(acc *Account) error {
		prior = a.lockout.ManualUnlock(acc)
		acc.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info("account unlocked", "account_id", account.ID, "actor", rc.ActorID, "prior_failed_attempts", prior)

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionUpdate,
		ResourceID: account.ID.String(),
		Success:    true,
		OldValues:  before,
		NewValues:  account.securitySnapshot(),
		Metadata: map[string]any{
			"operation":             "unlock",
			"prior_failed_attempts": prior,
		},
	})

	return prior, nil
}
