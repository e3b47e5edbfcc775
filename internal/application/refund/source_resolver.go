package refund

import (
	"context"
	"errors"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
)

// SourceResolver turns a refund's nullable source references into the single
// sale or order the money is drawn against. A sale return resolves to its sale.
type SourceResolver struct{}

// NewSourceResolver creates a SourceResolver
func NewSourceResolver() *SourceResolver {
	return &SourceResolver{}
}

// Resolve finds the source transaction for ref. With lock set the source row is
// locked until the surrounding transaction ends.
func (s *SourceResolver) Resolve(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, ref refund.SourceRef, lock bool) (refund.SourceTransaction, error) {
	sourceType, id, ok := ref.Primary()
	if !ok {
		return nil, refund.NewValidationError("A sale, order or sale return reference is required")
	}
	sources := repos.SourceRepo()

	switch sourceType {
	case refund.SourceTypeSale:
		return s.findSale(ctx, sources, tenantID, id, lock)
	case refund.SourceTypeOrder:
		order, err := sources.FindOrder(ctx, tenantID, id, lock)
		if err != nil {
			return nil, mapNotFound(err, "Order")
		}
		return order, nil
	default:
		ret, err := sources.FindSaleReturn(ctx, tenantID, id)
		if err != nil {
			return nil, mapNotFound(err, "Sale return")
		}
		return s.findSale(ctx, sources, tenantID, ret.SaleID, lock)
	}
}

func (s *SourceResolver) findSale(ctx context.Context, sources refund.SourceRepository, tenantID, id uuid.UUID, lock bool) (refund.SourceTransaction, error) {
	sale, err := sources.FindSale(ctx, tenantID, id, lock)
	if err != nil {
		return nil, mapNotFound(err, "Sale")
	}
	return sale, nil
}

// mapNotFound turns a repository not-found into a NotFoundError naming resource
func mapNotFound(err error, resource string) error {
	if errors.Is(err, shared.ErrNotFound) {
		return refund.NewNotFoundError(resource)
	}
	return err
}
