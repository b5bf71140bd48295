package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Register creates an unverified account, optionally inside a new
// organization, and emails a verification token. Accounts that create an
// organization own it; everyone else joins as a member.
func (a *Authenticator) Register(ctx context.Context, rc RequestContext, msg RegisterAccountMessage) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account registration")
	default:
		return a.register(ctx, rc, msg)
	}
}

func (a *Authenticator) register(ctx context.Context, rc RequestContext, msg RegisterAccountMessage) (*Account, error) {
	if err := msg.Validate(); err != nil {
		return nil, a.rejectMessage(msg, err)
	}

	email := NormalizeEmail(msg.Email)

	exists, err := a.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err, "failed to check existing account")
	}
	if exists {
		a.emitAudit(ctx, rc, AuditEntry{
			Action:       AuditActionCreate,
			ErrorMessage: "duplicate email",
			Metadata:     map[string]any{"email": email},
		})
		return nil, ErrDuplicateAccount
	}

	hash, err := a.hasher.HashPassword(msg.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := a.now()
	rawToken, tokenDigest := newOpaqueToken()
	verifyBy := now.Add(a.cfg.verificationTTL())

	account := &Account{
		ID:                         uuid.New(),
		Email:                      email,
		PasswordHash:               hash,
		Role:                       RoleMember,
		FirstName:                  strings.TrimSpace(msg.FirstName),
		LastName:                   strings.TrimSpace(msg.LastName),
		EmailVerificationToken:     &tokenDigest,
		EmailVerificationExpiresAt: &verifyBy,
		PasswordChangedAt:          &now,
		Active:                     true,
		CreatedAt:                  &now,
		UpdatedAt:                  &now,
	}

	if a.deterministicIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		}
	}

	created, err := a.createAccount(ctx, account, msg)
	if err != nil {
		return nil, err
	}

	if a.passwords != nil {
		if err := a.passwords.Remember(ctx, created.ID, hash); err != nil {
			a.logger.Warn("failed to seed password history", "account_id", created.ID, "error", err)
		}
	}

	recipient := created.recipient()
	a.notify(ctx, "verification", func(ctx context.Context, n Notifier) error {
		return n.SendVerificationEmail(ctx, recipient, rawToken)
	})

	a.emitAudit(ctx, rc, AuditEntry{
		Action:     AuditActionCreate,
		ResourceID: created.ID.String(),
		Success:    true,
		NewValues: map[string]any{
			"email":           created.Email,
			"role":            string(created.Role),
			"organization_id": created.OrganizationIDString(),
			"email_verified":  created.EmailVerified,
		},
	})

	return created, nil
}

// createAccount inserts account, first creating its organization when msg
// asks for one. With a TransactionManager and transaction aware stores both
// inserts share one transaction; otherwise a failed account insert leaves
// the organization behind and is logged.
func (a *Authenticator) createAccount(ctx context.Context, account *Account, msg RegisterAccountMessage) (*Account, error) {
	orgName := strings.TrimSpace(msg.OrganizationName)
	if msg.CreateOrganization && a.organizations == nil {
		return nil, goerrors.New("organization creation is not configured", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	accountsTx, accountsOK := a.accounts.(AccountCreatorTx)
	orgsTx, orgsOK := a.organizations.(OrganizationCreatorTx)
	if a.txManager != nil && accountsOK && (orgsOK || !msg.CreateOrganization) {
		var created *Account
		stage := "account"
		err := a.txManager.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			existing, err := accountsTx.FindByEmailTx(ctx, tx, account.Email)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrDuplicateAccount
			}

			if msg.CreateOrganization {
				stage = "organization"
				org, err := orgsTx.CreateOrganizationTx(ctx, tx, orgName)
				if err != nil {
					return err
				}
				account.OrganizationID = &org.ID
				account.Role = RoleOwner
				stage = "account"
			}

			created, err = accountsTx.CreateTx(ctx, tx, account)
			return err
		})
		switch {
		case err == nil:
			return created, nil
		case IsDuplicateAccount(err):
			return nil, err
		case stage == "organization":
			return nil, internalError(err, "failed to create organization")
		default:
			return nil, internalError(err, "failed to create account")
		}
	}

	if msg.CreateOrganization {
		org, err := a.organizations.CreateOrganization(ctx, orgName)
		if err != nil {
			return nil, internalError(err, "failed to create organization")
		}
		account.OrganizationID = &org.ID
		account.Role = RoleOwner
	}

	created, err := a.accounts.Create(ctx, account)
	if err != nil {
		if IsDuplicateAccount(err) {
			return nil, err
		}
		if account.OrganizationID != nil {
			a.logger.Error("account creation failed after organization was created",
				"organization_id", account.OrganizationID,
				"email", account.Email,
			)
		}
		return nil, internalError(err, "failed to create account")
	}
	return created, nil
}
