package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSourceRepository implements refund.SourceRepository over the sales,
// orders and sale_returns tables
type GormSourceRepository struct {
	db *gorm.DB
}

// NewGormSourceRepository creates a new GormSourceRepository
func NewGormSourceRepository(db *gorm.DB) *GormSourceRepository {
	return &GormSourceRepository{db: db}
}

func (r *GormSourceRepository) query(ctx context.Context, lock bool) *gorm.DB {
	db := r.db.WithContext(ctx)
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// FindSale finds a sale, optionally row-locked
func (r *GormSourceRepository) FindSale(ctx context.Context, tenantID, id uuid.UUID, lock bool) (*refund.SaleSource, error) {
	var model models.SaleModel
	if err := r.query(ctx, lock).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOrder finds an order, optionally row-locked
func (r *GormSourceRepository) FindOrder(ctx context.Context, tenantID, id uuid.UUID, lock bool) (*refund.OrderSource, error) {
	var model models.OrderModel
	if err := r.query(ctx, lock).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindSaleReturn finds a sale return
func (r *GormSourceRepository) FindSaleReturn(ctx context.Context, tenantID, id uuid.UUID) (*refund.SaleReturn, error) {
	var model models.SaleReturnModel
	if err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveRefundTotals writes refunded_amount and refund_status of a sale or order
func (r *GormSourceRepository) SaveRefundTotals(ctx context.Context, tenantID uuid.UUID, src refund.SourceTransaction) error {
	var model any
	switch src.SourceType() {
	case refund.SourceTypeSale:
		model = &models.SaleModel{}
	case refund.SourceTypeOrder:
		model = &models.OrderModel{}
	default:
		return fmt.Errorf("cannot store refund totals on source type %q", src.SourceType())
	}

	updates := map[string]any{
		"refunded_amount": src.RefundedAmount(),
		"refund_status":   string(src.RefundStatus()),
	}
	switch s := src.(type) {
	case *refund.SaleSource:
		updates["updated_at"] = s.UpdatedAt
	case *refund.OrderSource:
		updates["updated_at"] = s.UpdatedAt
	}

	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND tenant_id = ?", src.SourceID(), tenantID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormSourceRepository implements SourceRepository
var _ refund.SourceRepository = (*GormSourceRepository)(nil)
