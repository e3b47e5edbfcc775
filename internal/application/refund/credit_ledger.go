package refund

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditLedger issues, reads and redeems credit notes
type CreditLedger struct {
	scope      TransactionScope
	references ReferenceGenerator
	clock      Clock
	metrics    Metrics
	logger     *zap.Logger
}

// NewCreditLedger creates a CreditLedger
func NewCreditLedger(scope TransactionScope, references ReferenceGenerator) *CreditLedger {
	return &CreditLedger{
		scope:      scope,
		references: references,
		clock:      systemClock{},
		metrics:    noopMetrics{},
		logger:     zap.NewNop(),
	}
}

// SetClock replaces the time source
func (l *CreditLedger) SetClock(clock Clock) { l.clock = clock }

// SetMetrics sets the business metrics recorder
func (l *CreditLedger) SetMetrics(metrics Metrics) { l.metrics = metrics }

// SetLogger sets the logger
func (l *CreditLedger) SetLogger(logger *zap.Logger) { l.logger = logger }

// Issue creates the credit note of a processing credit-note refund. It runs
// inside the caller's transaction.
func (l *CreditLedger) Issue(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, now time.Time) (*refund.CreditNote, error) {
	if _, err := repos.CreditNoteRepo().FindByRefundID(ctx, r.TenantID, r.ID); err == nil {
		return nil, refund.NewInvalidStateError("Refund " + r.Reference + " already has a credit note")
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	var note *refund.CreditNote
	err := withFreshReference(func() string { return l.references.CreditNoteReference(now) }, func(reference string) error {
		n, err := refund.NewCreditNote(r, reference, now)
		if err != nil {
			return err
		}
		if err := repos.CreditNoteRepo().Create(ctx, n); err != nil {
			if errors.Is(err, shared.ErrAlreadyExists) {
				l.logger.Warn("Credit note reference taken, drawing another", zap.String("reference", reference))
			}
			return err
		}
		note = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ApplyToPayment spends the customer's credit, oldest note first, towards a
// payment. Whatever the notes cannot cover is returned as the shortfall.
func (l *CreditLedger) ApplyToPayment(ctx context.Context, tenantID uuid.UUID, input ApplyCreditInput) (*refund.Redemption, error) {
	amount := refund.RoundAmount(input.Amount)
	if !amount.IsPositive() {
		return nil, refund.NewValidationError("Amount to cover must be greater than zero")
	}
	if input.CustomerID == uuid.Nil {
		return nil, refund.NewValidationError("Customer is required")
	}
	paymentRef := strings.TrimSpace(input.PaymentReference)

	redemption := &refund.Redemption{
		Requested:    amount,
		Applications: []refund.CreditApplication{},
	}
	now := l.clock.Now()

	err := l.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		notes := repos.CreditNoteRepo()
		redeemable, err := notes.FindRedeemableForUpdate(ctx, tenantID, input.CustomerID, now)
		if err != nil {
			return err
		}

		needed := amount
		for i := range redeemable {
			if !needed.IsPositive() {
				break
			}
			note := &redeemable[i]
			applied, err := note.Redeem(needed, now)
			if err != nil {
				return err
			}
			if err := notes.Save(ctx, note); err != nil {
				return err
			}
			if err := notes.CreateRedemption(ctx, refund.NewCreditNoteRedemption(note, applied, paymentRef, now)); err != nil {
				return err
			}
			needed = needed.Sub(applied)
			redemption.Applications = append(redemption.Applications, refund.CreditApplication{
				CreditNoteID: note.ID,
				Reference:    note.Reference,
				Applied:      applied,
				Remaining:    note.RemainingAmount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	redemption.Covered = lo.Reduce(redemption.Applications, func(acc decimal.Decimal, a refund.CreditApplication, _ int) decimal.Decimal {
		return acc.Add(a.Applied)
	}, decimal.Zero)
	redemption.Shortfall = amount.Sub(redemption.Covered)

	if redemption.Covered.IsPositive() {
		l.metrics.CreditRedeemed(ctx, redemption.Covered)
	}
	l.logger.Info("Customer credit applied",
		zap.String("tenant_id", tenantID.String()),
		zap.String("customer_id", input.CustomerID.String()),
		zap.String("payment_reference", paymentRef),
		zap.String("requested", amount.StringFixed(refund.AmountScale)),
		zap.String("covered", redemption.Covered.StringFixed(refund.AmountScale)),
		zap.Int("notes", len(redemption.Applications)))
	return redemption, nil
}

// ListCustomerCredit returns every note of a customer with its read-time
// status and the total still redeemable.
func (l *CreditLedger) ListCustomerCredit(ctx context.Context, tenantID, customerID uuid.UUID) (*CustomerCreditResponse, error) {
	var notes []refund.CreditNote
	err := l.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if _, err := repos.CustomerRepo().FindByIDForTenant(ctx, tenantID, customerID); err != nil {
			return mapNotFound(err, "Customer")
		}
		var err error
		notes, err = repos.CreditNoteRepo().FindByCustomer(ctx, tenantID, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	resp := &CustomerCreditResponse{
		CustomerID:       customerID,
		AvailableBalance: decimal.Zero,
		CreditNotes:      make([]CreditNoteResponse, 0, len(notes)),
	}
	for i := range notes {
		if notes[i].IsRedeemable(now) {
			resp.AvailableBalance = resp.AvailableBalance.Add(notes[i].RemainingAmount)
		}
		resp.CreditNotes = append(resp.CreditNotes, ToCreditNoteResponse(&notes[i], now))
	}
	return resp, nil
}

// GetCreditNote returns one note with its redemption history
func (l *CreditLedger) GetCreditNote(ctx context.Context, tenantID, id uuid.UUID) (*CreditNoteResponse, error) {
	var (
		note        *refund.CreditNote
		redemptions []refund.CreditNoteRedemption
	)
	err := l.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		note, err = repos.CreditNoteRepo().FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return mapNotFound(err, "Credit note")
		}
		redemptions, err = repos.CreditNoteRepo().FindRedemptions(ctx, tenantID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := ToCreditNoteResponse(note, l.clock.Now())
	resp.Redemptions = lo.Map(redemptions, func(r refund.CreditNoteRedemption, _ int) RedemptionResponse {
		return ToRedemptionResponse(&r)
	})
	return &resp, nil
}
