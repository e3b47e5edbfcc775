package refund

import (
	"context"
	"time"

	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundFilter narrows refund listings
type RefundFilter struct {
	shared.Filter
	Status     *Status
	Method     *Method
	CustomerID *uuid.UUID
	Search     string
}

// Statistics is the tenant-wide refund summary
type Statistics struct {
	Total           int64           `json:"total"`
	Pending         int64           `json:"pending"`
	Approved        int64           `json:"approved"`
	Completed       int64           `json:"completed"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CreditNoteCount int64           `json:"credit_note_count"`
	MoneyCount      int64           `json:"money_count"`
}

// RefundRepository persists the Refund aggregate with its items.
// Methods ending in ForUpdate take a row lock and must run inside a transaction.
type RefundRepository interface {
	// FindByIDForTenant loads a refund with its items
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Refund, error)

	// FindByIDForUpdate loads and row-locks a refund with its items
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Refund, error)

	// FindByReference finds a refund by its REF- reference
	FindByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*Refund, error)

	// FindAllForTenant lists refunds and returns the unpaged total
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter RefundFilter) ([]Refund, int64, error)

	// Create inserts a new refund and its items
	Create(ctx context.Context, refund *Refund) error

	// SaveWithLock updates a refund if its stored version still matches and
	// bumps the version; otherwise it returns shared.ErrConcurrencyConflict
	SaveWithLock(ctx context.Context, refund *Refund) error

	// SumBySource sums refund amounts on a source transaction for the given statuses.
	// excludeID, when set, leaves that refund out of the sum.
	SumBySource(ctx context.Context, tenantID uuid.UUID, sourceType SourceType, sourceID uuid.UUID, statuses []Status, excludeID *uuid.UUID) (decimal.Decimal, error)

	// Statistics computes the tenant-wide summary
	Statistics(ctx context.Context, tenantID uuid.UUID) (*Statistics, error)
}

// CreditNoteRepository persists credit notes and their redemption trail
type CreditNoteRepository interface {
	Create(ctx context.Context, note *CreditNote) error
	Save(ctx context.Context, note *CreditNote) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*CreditNote, error)
	FindByRefundID(ctx context.Context, tenantID, refundID uuid.UUID) (*CreditNote, error)

	// FindRedeemableForUpdate row-locks the customer's active, unexpired notes
	// with a positive balance, oldest issue first
	FindRedeemableForUpdate(ctx context.Context, tenantID, customerID uuid.UUID, now time.Time) ([]CreditNote, error)

	// FindByCustomer lists every note of a customer, newest first
	FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]CreditNote, error)

	CreateRedemption(ctx context.Context, redemption *CreditNoteRedemption) error
	FindRedemptions(ctx context.Context, tenantID, creditNoteID uuid.UUID) ([]CreditNoteRedemption, error)
}

// RefundTransactionRepository persists money-transfer instruments
type RefundTransactionRepository interface {
	Create(ctx context.Context, txn *RefundTransaction) error
	Save(ctx context.Context, txn *RefundTransaction) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*RefundTransaction, error)
	FindByRefundID(ctx context.Context, tenantID, refundID uuid.UUID) (*RefundTransaction, error)
	FindByRefundIDForUpdate(ctx context.Context, tenantID, refundID uuid.UUID) (*RefundTransaction, error)

	// SumInFlightByPayment sums unanswered processing attempts on a payment,
	// leaving out excludeRefundID
	SumInFlightByPayment(ctx context.Context, tenantID, paymentID, excludeRefundID uuid.UUID) (decimal.Decimal, error)

	// FindStuck lists processing transactions of every tenant last touched before olderThan
	FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]RefundTransaction, error)
}

// PaymentRepository reads and updates captured gateway payments
type PaymentRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)

	// FindCapturedByExternalIDForUpdate row-locks the captured payment with the given gateway id
	FindCapturedByExternalIDForUpdate(ctx context.Context, tenantID uuid.UUID, externalID string) (*Payment, error)

	Save(ctx context.Context, payment *Payment) error
}

// SourceRepository reads sales, orders and sale returns, and writes refund totals back
type SourceRepository interface {
	FindSale(ctx context.Context, tenantID, id uuid.UUID, lock bool) (*SaleSource, error)
	FindOrder(ctx context.Context, tenantID, id uuid.UUID, lock bool) (*OrderSource, error)
	FindSaleReturn(ctx context.Context, tenantID, id uuid.UUID) (*SaleReturn, error)

	// SaveRefundTotals persists refunded_amount and refund_status of a source
	SaveRefundTotals(ctx context.Context, tenantID uuid.UUID, src SourceTransaction) error
}

// CustomerRepository reads customers
type CustomerRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Customer, error)
}
