package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRefundTransactionRepository implements refund.RefundTransactionRepository using GORM
type GormRefundTransactionRepository struct {
	db *gorm.DB
}

// NewGormRefundTransactionRepository creates a new GormRefundTransactionRepository
func NewGormRefundTransactionRepository(db *gorm.DB) *GormRefundTransactionRepository {
	return &GormRefundTransactionRepository{db: db}
}

// Create inserts a new refund transaction
func (r *GormRefundTransactionRepository) Create(ctx context.Context, txn *refund.RefundTransaction) error {
	return r.db.WithContext(ctx).Create(models.RefundTransactionModelFromDomain(txn)).Error
}

// Save writes the mutable fields of an existing refund transaction.
// updated_at is taken from txn so callers control the clock.
func (r *GormRefundTransactionRepository) Save(ctx context.Context, txn *refund.RefundTransaction) error {
	model := models.RefundTransactionModelFromDomain(txn)
	result := r.db.WithContext(ctx).
		Model(&models.RefundTransactionModel{}).
		Where("id = ? AND tenant_id = ?", txn.ID, txn.TenantID).
		Updates(map[string]any{
			"payment_id":             model.PaymentID,
			"status":                 model.Status,
			"amount":                 model.Amount,
			"gateway_transaction_id": model.GatewayTransactionID,
			"gateway_refund_id":      model.GatewayRefundID,
			"gateway_response":       model.GatewayResponse,
			"failure_reason":         model.FailureReason,
			"attempts":               model.Attempts,
			"processed_at":           model.ProcessedAt,
			"completed_at":           model.CompletedAt,
			"updated_at":             model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByIDForTenant finds a refund transaction by ID
func (r *GormRefundTransactionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*refund.RefundTransaction, error) {
	return r.findOne(r.db.WithContext(ctx), "id = ? AND tenant_id = ?", id, tenantID)
}

// FindByRefundID finds the transaction of a refund
func (r *GormRefundTransactionRepository) FindByRefundID(ctx context.Context, tenantID, refundID uuid.UUID) (*refund.RefundTransaction, error) {
	return r.findOne(r.db.WithContext(ctx), "refund_id = ? AND tenant_id = ?", refundID, tenantID)
}

// FindByRefundIDForUpdate finds and row-locks the transaction of a refund
func (r *GormRefundTransactionRepository) FindByRefundIDForUpdate(ctx context.Context, tenantID, refundID uuid.UUID) (*refund.RefundTransaction, error) {
	db := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(db, "refund_id = ? AND tenant_id = ?", refundID, tenantID)
}

func (r *GormRefundTransactionRepository) findOne(db *gorm.DB, query string, args ...any) (*refund.RefundTransaction, error) {
	var model models.RefundTransactionModel
	if err := db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SumInFlightByPayment sums processing attempts against a payment. They are
// not in the payment totals until the gateway has processed them.
func (r *GormRefundTransactionRepository) SumInFlightByPayment(ctx context.Context, tenantID, paymentID, excludeRefundID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.RefundTransactionModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND payment_id = ? AND status = ? AND refund_id <> ?",
			tenantID, paymentID, string(refund.TransactionStatusProcessing), excludeRefundID).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return refund.RoundAmount(sum), nil
}

// FindStuck lists processing transactions of every tenant not touched since olderThan
func (r *GormRefundTransactionRepository) FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]refund.RefundTransaction, error) {
	var rows []models.RefundTransactionModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(refund.TransactionStatusProcessing), olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	txns := make([]refund.RefundTransaction, len(rows))
	for i := range rows {
		txns[i] = *rows[i].ToDomain()
	}
	return txns, nil
}

// Ensure GormRefundTransactionRepository implements RefundTransactionRepository
var _ refund.RefundTransactionRepository = (*GormRefundTransactionRepository)(nil)
