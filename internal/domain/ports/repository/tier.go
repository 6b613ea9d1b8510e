package repository

import (
	"context"

	"recurring-billing/internal/domain/model"
)

// TierRepository is the port for product tiers.
type TierRepository interface {
	Save(ctx context.Context, tx Tx, t *model.ProductTier) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ProductTier, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.ProductTier, error)
}
