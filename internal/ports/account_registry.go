package ports

import (
	"context"

	"github.com/bnema/redpost/internal/domain"
)

type AccountRegistry interface {
	GetByKey(ctx context.Context, key domain.AccountKey) (domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Save(ctx context.Context, account domain.Account) error
}
