package refund_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundService_CreateRefundRequest(t *testing.T) {
	t.Run("creates a pending refund owned by the sale's customer", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("2400.00", "pay_2400")

		resp := h.request(saleID, "2400", refund.MethodCreditNote.String())

		assert.Equal(t, refund.StatusPending.String(), resp.Status)
		assert.Equal(t, h.customerID, resp.CustomerID)
		assert.Equal(t, "REF-20260314-000001", resp.Reference)
		assertAmount(t, "2400", resp.Amount)
		assert.Equal(t, 1, h.metrics.requested)
	})

	t.Run("items must add up to the amount", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("500.00", "pay_500")

		_, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
			SaleID: &saleID,
			Amount: decimal.RequireFromString("100"),
			Method: "credit_note",
			Items: []appref.RefundItemInput{
				{ProductID: uuid.New(), Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("30")},
			},
		})
		assert.True(t, shared.HasCode(err, shared.CodeValidation))

		resp, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
			SaleID: &saleID,
			Amount: decimal.RequireFromString("60"),
			Method: "credit_note",
			Items: []appref.RefundItemInput{
				{ProductID: uuid.New(), Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("30")},
			},
		})
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assertAmount(t, "60", resp.Items[0].TotalAmount)
	})

	t.Run("sale return settles against its sale", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("300.00", "pay_300")
		returnID := h.seedSaleReturn(saleID)

		resp, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
			SaleReturnID: &returnID,
			Amount:       decimal.RequireFromString("120"),
			Method:       "credit_note",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.SaleID)
		assert.Equal(t, saleID, *resp.SaleID)
		assert.Equal(t, returnID, *resp.SaleReturnID)
	})

	t.Run("order refunds draw on the order total", func(t *testing.T) {
		h := newHarness(t)
		orderID := h.seedOrder("80.00", "pay_order")

		_, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
			OrderID: &orderID,
			Amount:  decimal.RequireFromString("80.01"),
			Method:  "credit_note",
		})
		var exceeds *refund.ExceedsRefundableError
		require.ErrorAs(t, err, &exceeds)
		assertAmount(t, "80", exceeds.MaxRefundable)
	})

	t.Run("rejected inputs", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("100.00", "pay_100")
		missing := uuid.New()
		unknownCustomer := uuid.New()

		tests := []struct {
			name  string
			input appref.CreateRefundInput
			code  string
		}{
			{"no source", appref.CreateRefundInput{Amount: decimal.NewFromInt(10), Method: "credit_note"}, shared.CodeValidation},
			{"unknown sale", appref.CreateRefundInput{SaleID: &missing, Amount: decimal.NewFromInt(10), Method: "credit_note"}, shared.CodeNotFound},
			{"zero amount", appref.CreateRefundInput{SaleID: &saleID, Amount: decimal.Zero, Method: "credit_note"}, shared.CodeValidation},
			{"negative amount", appref.CreateRefundInput{SaleID: &saleID, Amount: decimal.NewFromInt(-5), Method: "credit_note"}, shared.CodeValidation},
			{"missing method", appref.CreateRefundInput{SaleID: &saleID, Amount: decimal.NewFromInt(10)}, shared.CodeValidation},
			{"unconfigured gateway", appref.CreateRefundInput{SaleID: &saleID, Amount: decimal.NewFromInt(10), Method: "paypal"}, shared.CodeValidation},
			{"unknown customer", appref.CreateRefundInput{SaleID: &saleID, CustomerID: &unknownCustomer, Amount: decimal.NewFromInt(10), Method: "credit_note"}, shared.CodeNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, tt.input)
				require.Error(t, err)
				assert.Equal(t, tt.code, shared.ErrorCode(err))
			})
		}

		list, err := h.service.ListRefunds(h.ctx(), h.tenantID, refund.RefundFilter{})
		require.NoError(t, err)
		assert.Zero(t, list.Total)
	})

	t.Run("sales of another tenant are invisible", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("100.00", "pay_100")

		_, err := h.service.CreateRefundRequest(h.ctx(), uuid.New(), appref.CreateRefundInput{
			SaleID:     &saleID,
			CustomerID: &h.customerID,
			Amount:     decimal.NewFromInt(10),
			Method:     "credit_note",
		})
		assert.True(t, shared.HasCode(err, shared.CodeNotFound))
	})
}

func TestRefundService_CreditNoteRefund(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("2400.00", "pay_2400")
	created := h.request(saleID, "2400", "credit_note")

	resp, err := h.service.ApproveRefund(h.ctx(), h.tenantID, created.ID, appref.ApproveInput{Notes: "goods received"})
	require.NoError(t, err)

	assert.Equal(t, refund.StatusCompleted.String(), resp.Status)
	assert.Equal(t, "goods received", resp.AdminNotes)
	require.NotNil(t, resp.ApprovedAt)
	require.NotNil(t, resp.CompletedAt)
	require.NotNil(t, resp.PaidAt)
	require.NotNil(t, resp.CreditNoteID)
	require.NotNil(t, resp.CreditNote)
	assert.Nil(t, resp.Transaction)

	note := resp.CreditNote
	assert.Equal(t, *resp.CreditNoteID, note.ID)
	assert.Equal(t, h.customerID, note.CustomerID)
	assertAmount(t, "2400", note.Amount)
	assertAmount(t, "2400", note.RemainingAmount)
	assert.Equal(t, string(refund.CreditNoteStatusActive), note.Status)
	assert.True(t, note.ExpiresAt.Equal(testNow.AddDate(1, 0, 0)))

	sale := h.sale(saleID)
	assertAmount(t, "2400", sale.RefundedAmount)
	assert.Equal(t, string(refund.SourceRefundStatusFull), sale.RefundStatus)
	assert.Equal(t, 1, h.metrics.completed)
	assert.Empty(t, h.gateway.Requests())

	_, err = h.service.ProcessRefund(h.ctx(), h.tenantID, created.ID, nil)
	assert.True(t, shared.HasCode(err, shared.CodeInvalidState), "completed refunds are final")
}

func TestRefundService_ExceedsRefundable(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")
	h.settleCreditNote(saleID, "600")

	_, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
		SaleID: &saleID,
		Amount: decimal.RequireFromString("500"),
		Method: "credit_note",
	})

	var exceeds *refund.ExceedsRefundableError
	require.ErrorAs(t, err, &exceeds)
	assertAmount(t, "400", exceeds.MaxRefundable)
	assert.Equal(t, refund.CodeExceedsRefundable, shared.ErrorCode(err))

	sale := h.sale(saleID)
	assertAmount(t, "600", sale.RefundedAmount)
	assert.Equal(t, string(refund.SourceRefundStatusPartial), sale.RefundStatus)

	h.settleCreditNote(saleID, "400")
	assert.Equal(t, string(refund.SourceRefundStatusFull), h.sale(saleID).RefundStatus)
}

func TestRefundService_ApproveBlockedByProcessingReservation(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")
	first := h.request(saleID, "700", "credit_note")
	second := h.request(saleID, "700", "credit_note")

	_, err := h.service.ApproveRefund(h.ctx(), h.tenantID, first.ID, appref.ApproveInput{})
	require.NoError(t, err)

	_, err = h.service.ApproveRefund(h.ctx(), h.tenantID, second.ID, appref.ApproveInput{})
	var exceeds *refund.ExceedsRefundableError
	require.ErrorAs(t, err, &exceeds)
	assertAmount(t, "300", exceeds.MaxRefundable)

	stored, err := h.service.GetRefund(h.ctx(), h.tenantID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPending.String(), stored.Status, "a failed approval keeps nothing")
	assert.Nil(t, stored.ApprovedAt)
	assert.Nil(t, stored.CreditNote)
}

func TestRefundService_ConcurrentApprovals(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")

	const contenders = 4
	ids := make([]uuid.UUID, contenders)
	for i := range ids {
		ids[i] = h.request(saleID, "600", "credit_note").ID
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, contenders)
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.service.ApproveRefund(h.ctx(), h.tenantID, ids[i], appref.ApproveInput{})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var exceeds *refund.ExceedsRefundableError
		assert.True(t, errors.As(err, &exceeds), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	list, err := h.service.ListRefunds(h.ctx(), h.tenantID, refund.RefundFilter{Status: lo.ToPtr(refund.StatusCompleted)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assertAmount(t, "600", h.sale(saleID).RefundedAmount)
}

func TestRefundService_StateMachine(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")
	actor := uuid.New()

	t.Run("rejection needs a reason and is final", func(t *testing.T) {
		r := h.request(saleID, "10", "credit_note")

		_, err := h.service.RejectRefund(h.ctx(), h.tenantID, r.ID, appref.RejectInput{Reason: "  "})
		assert.True(t, shared.HasCode(err, shared.CodeValidation))

		resp, err := h.service.RejectRefund(h.ctx(), h.tenantID, r.ID, appref.RejectInput{Reason: "outside return window", ActorID: &actor})
		require.NoError(t, err)
		assert.Equal(t, refund.StatusRejected.String(), resp.Status)
		assert.Equal(t, "outside return window", resp.RejectionReason)

		_, err = h.service.ApproveRefund(h.ctx(), h.tenantID, r.ID, appref.ApproveInput{})
		assert.True(t, shared.HasCode(err, shared.CodeInvalidState))
		_, err = h.service.CancelRefund(h.ctx(), h.tenantID, r.ID, nil)
		assert.True(t, shared.HasCode(err, shared.CodeInvalidState))
	})

	t.Run("cancelled refunds cannot be processed", func(t *testing.T) {
		r := h.request(saleID, "10", "credit_note")

		resp, err := h.service.CancelRefund(h.ctx(), h.tenantID, r.ID, &actor)
		require.NoError(t, err)
		assert.Equal(t, refund.StatusCancelled.String(), resp.Status)

		_, err = h.service.ProcessRefund(h.ctx(), h.tenantID, r.ID, nil)
		assert.True(t, shared.HasCode(err, shared.CodeInvalidState))
	})

	t.Run("pending refunds must be approved before processing", func(t *testing.T) {
		r := h.request(saleID, "10", "credit_note")

		_, err := h.service.ProcessRefund(h.ctx(), h.tenantID, r.ID, nil)
		assert.True(t, shared.HasCode(err, shared.CodeInvalidState))
	})

	t.Run("unknown refunds are not found", func(t *testing.T) {
		_, err := h.service.ApproveRefund(h.ctx(), h.tenantID, uuid.New(), appref.ApproveInput{})
		assert.True(t, shared.HasCode(err, shared.CodeNotFound))
		_, err = h.service.GetRefund(h.ctx(), h.tenantID, uuid.New())
		assert.True(t, shared.HasCode(err, shared.CodeNotFound))
	})

	t.Run("every reachable status is a legal edge", func(t *testing.T) {
		list, err := h.service.ListRefunds(h.ctx(), h.tenantID, refund.RefundFilter{})
		require.NoError(t, err)
		for _, item := range list.Items {
			status := refund.Status(item.Status)
			assert.True(t, status.IsValid())
			if status != refund.StatusPending {
				assert.True(t, status.IsTerminal(), "%s left in %s", item.Reference, status)
			}
		}
	})
}

func TestRefundService_RecordItemQC(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("100.00", "pay_100")

	created, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
		SaleID: &saleID,
		Amount: decimal.RequireFromString("45"),
		Method: "credit_note",
		Items: []appref.RefundItemInput{
			{ProductID: uuid.New(), Quantity: decimal.NewFromInt(3), UnitPrice: decimal.RequireFromString("15")},
		},
	})
	require.NoError(t, err)
	itemID := created.Items[0].ID

	resp, err := h.service.RecordItemQC(h.ctx(), h.tenantID, created.ID, itemID, refund.QCStatusPassed, "sealed box")
	require.NoError(t, err)
	assert.Equal(t, string(refund.QCStatusPassed), resp.Items[0].QCStatus)
	assert.Equal(t, "sealed box", resp.Items[0].QCNotes)
	assert.Equal(t, created.Version+1, resp.Version)

	_, err = h.service.RecordItemQC(h.ctx(), h.tenantID, created.ID, uuid.New(), refund.QCStatusPassed, "")
	assert.True(t, shared.HasCode(err, shared.CodeNotFound))
}

func TestRefundService_ListRefunds(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")
	for i := 0; i < 3; i++ {
		h.request(saleID, "10", "credit_note")
		h.clock.Advance(time.Minute)
	}
	h.request(saleID, "10", "razorpay")

	page, err := h.service.ListRefunds(h.ctx(), h.tenantID, refund.RefundFilter{
		Filter: shared.Filter{Page: 1, PageSize: 2, OrderBy: "requested_at", OrderDir: "desc"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.PageSize)

	gateway, err := h.service.ListRefunds(h.ctx(), h.tenantID, refund.RefundFilter{Method: lo.ToPtr(refund.Method("razorpay"))})
	require.NoError(t, err)
	assert.EqualValues(t, 1, gateway.Total)
	assert.Equal(t, shared.DefaultFilter().PageSize, gateway.PageSize)
}

func TestRefundService_GetStatistics(t *testing.T) {
	h := newHarness(t)
	saleID := h.seedSale("1000.00", "pay_1000")
	h.settleCreditNote(saleID, "250")
	h.request(saleID, "100", "razorpay")

	stats, err := h.service.GetStatistics(h.ctx(), h.tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 1, stats.CreditNoteCount)
	assert.EqualValues(t, 1, stats.MoneyCount)
	assertAmount(t, "250", stats.TotalAmount)

	cached, ok := h.cache.Get(h.tenantID)
	require.True(t, ok)
	assert.Same(t, stats, cached)

	again, err := h.service.GetStatistics(h.ctx(), h.tenantID)
	require.NoError(t, err)
	assert.Same(t, stats, again, "second read is served from the cache")

	h.request(saleID, "5", "credit_note")
	_, ok = h.cache.Get(h.tenantID)
	assert.False(t, ok, "writes drop cached statistics")

	fresh, err := h.service.GetStatistics(h.ctx(), h.tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, fresh.Total)
}

func TestRefundService_ReferenceCollisions(t *testing.T) {
	t.Run("a taken refund reference is drawn again", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("900.00", "pay_900")
		first := h.request(saleID, "300", "credit_note")
		require.Equal(t, "REF-20260314-000001", first.Reference)

		h.references.queue(first.Reference, first.Reference)
		second := h.request(saleID, "300", "credit_note")

		assert.Equal(t, "REF-20260314-000002", second.Reference)
		assert.Equal(t, refund.StatusPending.String(), second.Status)
		assert.Equal(t, 2, h.metrics.requested)
	})

	t.Run("giving up after repeated collisions stores nothing", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("900.00", "pay_900")
		first := h.request(saleID, "300", "credit_note")

		h.references.queue(first.Reference, first.Reference, first.Reference)
		_, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
			SaleID: &saleID,
			Amount: decimal.RequireFromString("300"),
			Method: "credit_note",
		})
		require.Error(t, err)
		assert.True(t, shared.HasCode(err, shared.CodeAlreadyExists))

		var refunds int64
		require.NoError(t, h.db.Model(&models.RefundModel{}).Count(&refunds).Error)
		assert.Equal(t, int64(1), refunds)
		assert.Equal(t, 1, h.metrics.requested)
	})

	t.Run("a taken credit note reference still settles the refund", func(t *testing.T) {
		h := newHarness(t)
		saleID := h.seedSale("900.00", "pay_900")
		settled := h.settleCreditNote(saleID, "300")
		require.NotNil(t, settled.CreditNote)
		taken := settled.CreditNote.Reference

		created := h.request(saleID, "200", "credit_note")
		h.references.queue(taken)
		resp, err := h.service.ApproveRefund(h.ctx(), h.tenantID, created.ID, appref.ApproveInput{})
		require.NoError(t, err)

		assert.Equal(t, refund.StatusCompleted.String(), resp.Status)
		require.NotNil(t, resp.CreditNote)
		assert.NotEqual(t, taken, resp.CreditNote.Reference)
		assertAmount(t, "200", resp.CreditNote.Amount)
		assertAmount(t, "500", h.sale(saleID).RefundedAmount)
	})
}
