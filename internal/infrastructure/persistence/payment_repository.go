package persistence

import (
	"context"
	"errors"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements refund.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// FindByIDForTenant finds a payment by ID
func (r *GormPaymentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*refund.Payment, error) {
	return r.findOne(r.db.WithContext(ctx), "id = ? AND tenant_id = ?", id, tenantID)
}

// FindByIDForUpdate finds and row-locks a payment
func (r *GormPaymentRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*refund.Payment, error) {
	db := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(db, "id = ? AND tenant_id = ?", id, tenantID)
}

// FindCapturedByExternalIDForUpdate finds and row-locks the captured payment with a gateway id
func (r *GormPaymentRepository) FindCapturedByExternalIDForUpdate(ctx context.Context, tenantID uuid.UUID, externalID string) (*refund.Payment, error) {
	db := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(db, "tenant_id = ? AND external_id = ? AND status = ?",
		tenantID, externalID, string(refund.PaymentStatusCaptured))
}

func (r *GormPaymentRepository) findOne(db *gorm.DB, query string, args ...any) (*refund.Payment, error) {
	var model models.PaymentModel
	if err := db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save writes the refund totals of a payment
func (r *GormPaymentRepository) Save(ctx context.Context, payment *refund.Payment) error {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Where("id = ? AND tenant_id = ?", payment.ID, payment.TenantID).
		Updates(map[string]any{
			"refunded_amount": payment.RefundedAmount,
			"refund_status":   string(payment.RefundStatus),
			"updated_at":      payment.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormPaymentRepository implements PaymentRepository
var _ refund.PaymentRepository = (*GormPaymentRepository)(nil)
