package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCreditNoteRepository implements refund.CreditNoteRepository using GORM
type GormCreditNoteRepository struct {
	db *gorm.DB
}

// NewGormCreditNoteRepository creates a new GormCreditNoteRepository
func NewGormCreditNoteRepository(db *gorm.DB) *GormCreditNoteRepository {
	return &GormCreditNoteRepository{db: db}
}

// Create inserts a new credit note. Like GormRefundRepository.Create, a taken
// reference is reported as shared.ErrAlreadyExists without aborting the
// caller's transaction.
func (r *GormCreditNoteRepository) Create(ctx context.Context, note *refund.CreditNote) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(models.CreditNoteModelFromDomain(note)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("credit note reference %s: %w", note.Reference, shared.ErrAlreadyExists)
	}
	return err
}

// Save updates the balance and status of a credit note
func (r *GormCreditNoteRepository) Save(ctx context.Context, note *refund.CreditNote) error {
	result := r.db.WithContext(ctx).
		Model(&models.CreditNoteModel{}).
		Where("id = ? AND tenant_id = ?", note.ID, note.TenantID).
		Updates(map[string]any{
			"remaining_amount": note.RemainingAmount,
			"status":           string(note.Status),
			"updated_at":       note.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByIDForTenant finds a credit note by ID
func (r *GormCreditNoteRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*refund.CreditNote, error) {
	var model models.CreditNoteModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByRefundID finds the credit note issued by a refund
func (r *GormCreditNoteRepository) FindByRefundID(ctx context.Context, tenantID, refundID uuid.UUID) (*refund.CreditNote, error) {
	var model models.CreditNoteModel
	if err := r.db.WithContext(ctx).
		First(&model, "refund_id = ? AND tenant_id = ?", refundID, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRedeemableForUpdate locks the customer's usable notes, oldest first
func (r *GormCreditNoteRepository) FindRedeemableForUpdate(ctx context.Context, tenantID, customerID uuid.UUID, now time.Time) ([]refund.CreditNote, error) {
	var noteModels []models.CreditNoteModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND customer_id = ? AND status = ? AND remaining_amount > 0 AND expires_at > ?",
			tenantID, customerID, string(refund.CreditNoteStatusActive), now).
		Order("issued_at ASC").
		Order("id ASC").
		Find(&noteModels).Error; err != nil {
		return nil, err
	}
	return toCreditNotes(noteModels), nil
}

// FindByCustomer lists every note of a customer, newest first
func (r *GormCreditNoteRepository) FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]refund.CreditNote, error) {
	var noteModels []models.CreditNoteModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("issued_at DESC").
		Find(&noteModels).Error; err != nil {
		return nil, err
	}
	return toCreditNotes(noteModels), nil
}

// CreateRedemption inserts a redemption row
func (r *GormCreditNoteRepository) CreateRedemption(ctx context.Context, redemption *refund.CreditNoteRedemption) error {
	return r.db.WithContext(ctx).Create(models.CreditNoteRedemptionModelFromDomain(redemption)).Error
}

// FindRedemptions lists the redemptions of one note in order
func (r *GormCreditNoteRepository) FindRedemptions(ctx context.Context, tenantID, creditNoteID uuid.UUID) ([]refund.CreditNoteRedemption, error) {
	var rows []models.CreditNoteRedemptionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND credit_note_id = ?", tenantID, creditNoteID).
		Order("redeemed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	redemptions := make([]refund.CreditNoteRedemption, len(rows))
	for i := range rows {
		redemptions[i] = *rows[i].ToDomain()
	}
	return redemptions, nil
}

func toCreditNotes(noteModels []models.CreditNoteModel) []refund.CreditNote {
	notes := make([]refund.CreditNote, len(noteModels))
	for i := range noteModels {
		notes[i] = *noteModels[i].ToDomain()
	}
	return notes
}

// Ensure GormCreditNoteRepository implements CreditNoteRepository
var _ refund.CreditNoteRepository = (*GormCreditNoteRepository)(nil)
