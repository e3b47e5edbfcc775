package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sourceColumns maps a source type to the refund column that references it
var sourceColumns = map[refund.SourceType]string{
	refund.SourceTypeSale:       "sale_id",
	refund.SourceTypeOrder:      "order_id",
	refund.SourceTypeSaleReturn: "sale_return_id",
}

// GormRefundRepository implements refund.RefundRepository using GORM
type GormRefundRepository struct {
	db *gorm.DB
}

// NewGormRefundRepository creates a new GormRefundRepository
func NewGormRefundRepository(db *gorm.DB) *GormRefundRepository {
	return &GormRefundRepository{db: db}
}

// FindByIDForTenant loads a refund with its items
func (r *GormRefundRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*refund.Refund, error) {
	return r.findOne(ctx, r.db.WithContext(ctx), "id = ? AND tenant_id = ?", id, tenantID)
}

// FindByIDForUpdate loads a refund with SELECT ... FOR UPDATE
func (r *GormRefundRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*refund.Refund, error) {
	db := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(ctx, db, "id = ? AND tenant_id = ?", id, tenantID)
}

// FindByReference finds a refund by its reference
func (r *GormRefundRepository) FindByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*refund.Refund, error) {
	return r.findOne(ctx, r.db.WithContext(ctx), "reference = ? AND tenant_id = ?", reference, tenantID)
}

func (r *GormRefundRepository) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*refund.Refund, error) {
	var model models.RefundModel
	if err := db.Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, &model); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormRefundRepository) loadItems(ctx context.Context, model *models.RefundModel) error {
	return r.db.WithContext(ctx).
		Where("refund_id = ?", model.ID).
		Order("created_at ASC").
		Find(&model.Items).Error
}

// FindAllForTenant lists refunds with filtering and pagination. Items are not loaded.
func (r *GormRefundRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter refund.RefundFilter) ([]refund.Refund, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.RefundModel{}).Where("tenant_id = ?", tenantID)

	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.Method != nil {
		query = query.Where("method = ?", filter.Method.String())
	}
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("(LOWER(reference) LIKE ? OR LOWER(reason) LIKE ?)", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, RefundSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(orderBy + " " + orderDir)
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var refundModels []models.RefundModel
	if err := query.Find(&refundModels).Error; err != nil {
		return nil, 0, err
	}

	refunds := make([]refund.Refund, len(refundModels))
	for i := range refundModels {
		refunds[i] = *refundModels[i].ToDomain()
	}
	return refunds, total, nil
}

// Create inserts a new refund with its items. The insert runs in a nested
// transaction, so a taken reference leaves the caller's transaction usable
// and is reported as shared.ErrAlreadyExists.
func (r *GormRefundRepository) Create(ctx context.Context, rf *refund.Refund) error {
	model := models.RefundModelFromDomain(rf)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("refund reference %s: %w", rf.Reference, shared.ErrAlreadyExists)
	}
	return err
}

// SaveWithLock updates the refund when the stored version still equals
// rf.Version, then bumps the version on both sides. Items are upserted.
func (r *GormRefundRepository) SaveWithLock(ctx context.Context, rf *refund.Refund) error {
	model := models.RefundModelFromDomain(rf)
	result := r.db.WithContext(ctx).
		Model(&models.RefundModel{}).
		Where("id = ? AND tenant_id = ? AND version = ?", rf.ID, rf.TenantID, rf.Version).
		Updates(map[string]any{
			"status":           model.Status,
			"admin_notes":      model.AdminNotes,
			"rejection_reason": model.RejectionReason,
			"failure_reason":   model.FailureReason,
			"approved_at":      model.ApprovedAt,
			"processed_at":     model.ProcessedAt,
			"completed_at":     model.CompletedAt,
			"paid_at":          model.PaidAt,
			"processed_by":     model.ProcessedBy,
			"credit_note_id":   model.CreditNoteID,
			"updated_at":       model.UpdatedAt,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	rf.IncrementVersion()

	for i := range model.Items {
		if err := r.db.WithContext(ctx).Save(&model.Items[i]).Error; err != nil {
			return fmt.Errorf("save refund item %s: %w", model.Items[i].ID, err)
		}
	}
	return nil
}

// SumBySource sums refund amounts on one source for the given statuses
func (r *GormRefundRepository) SumBySource(ctx context.Context, tenantID uuid.UUID, sourceType refund.SourceType, sourceID uuid.UUID, statuses []refund.Status, excludeID *uuid.UUID) (decimal.Decimal, error) {
	column, ok := sourceColumns[sourceType]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown source type %q", sourceType)
	}

	statusValues := make([]string, len(statuses))
	for i, s := range statuses {
		statusValues[i] = s.String()
	}

	query := r.db.WithContext(ctx).
		Model(&models.RefundModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND "+column+" = ? AND status IN ?", tenantID, sourceID, statusValues)
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}

	var sum decimal.Decimal
	if err := query.Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return refund.RoundAmount(sum), nil
}

type refundStatisticsRow struct {
	Total           int64
	Pending         int64
	Approved        int64
	Completed       int64
	TotalAmount     decimal.Decimal
	CreditNoteCount int64
	MoneyCount      int64
}

// Statistics computes the tenant-wide refund summary in one query
func (r *GormRefundRepository) Statistics(ctx context.Context, tenantID uuid.UUID) (*refund.Statistics, error) {
	var row refundStatisticsRow
	err := r.db.WithContext(ctx).
		Model(&models.RefundModel{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_amount,
			COALESCE(SUM(CASE WHEN method = ? THEN 1 ELSE 0 END), 0) AS credit_note_count,
			COALESCE(SUM(CASE WHEN method <> ? THEN 1 ELSE 0 END), 0) AS money_count`,
			refund.StatusPending.String(), refund.StatusApproved.String(),
			refund.StatusCompleted.String(), refund.StatusCompleted.String(),
			refund.MethodCreditNote.String(), refund.MethodCreditNote.String()).
		Where("tenant_id = ?", tenantID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &refund.Statistics{
		Total:           row.Total,
		Pending:         row.Pending,
		Approved:        row.Approved,
		Completed:       row.Completed,
		TotalAmount:     refund.RoundAmount(row.TotalAmount),
		CreditNoteCount: row.CreditNoteCount,
		MoneyCount:      row.MoneyCount,
	}, nil
}

// Ensure GormRefundRepository implements RefundRepository
var _ refund.RefundRepository = (*GormRefundRepository)(nil)
