package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Organizations stores organizations and implements OrganizationCreator.
type Organizations interface {
	OrganizationCreator
	OrganizationCreatorTx
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	Repository() repository.Repository[*Organization]
}

type organizations struct {
	repo repository.Repository[*Organization]
	db   *bun.DB
	now  func() time.Time
}

// NewOrganizationsRepository returns an Organizations store over db.
func NewOrganizationsRepository(db *bun.DB) Organizations {
	handlers := repository.ModelHandlers[*Organization]{
		NewRecord: func() *Organization {
			return &Organization{}
		},
		GetID: func(record *Organization) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Organization, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return &organizations{
		repo: repository.NewRepository(db, handlers),
		db:   db,
		now:  time.Now,
	}
}

func (o *organizations) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	return o.CreateOrganizationTx(ctx, o.db, name)
}

func (o *organizations) CreateOrganizationTx(ctx context.Context, tx bun.IDB, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, goerrors.New("organization name is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	now := o.now()
	return o.repo.CreateTx(ctx, tx, &Organization{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: &now,
	})
}

func (o *organizations) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	org, err := o.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

func (o *organizations) Repository() repository.Repository[*Organization] {
	return o.repo
}
