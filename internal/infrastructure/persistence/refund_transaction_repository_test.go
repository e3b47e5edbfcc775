package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedPayment(t *testing.T, db *gorm.DB, tenantID uuid.UUID, externalID, amount string, status refund.PaymentStatus) *refund.Payment {
	t.Helper()
	p := &refund.Payment{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ExternalID:     externalID,
		Gateway:        "razorpay",
		Status:         status,
		OriginalAmount: decimal.RequireFromString(amount),
		RefundedAmount: decimal.Zero,
		RefundStatus:   refund.PaymentNotRefunded,
		CreatedAt:      repoTestNow,
		UpdatedAt:      repoTestNow,
	}
	require.NoError(t, db.Create(models.PaymentModelFromDomain(p)).Error)
	return p
}

func TestGormRefundTransactionRepository_FindByRefundIDForUpdate_LocksRow(t *testing.T) {
	gormDB, mock, mockDB := newMockRefundDB(t)
	defer mockDB.Close()
	repo := NewGormRefundTransactionRepository(gormDB)

	tenantID := uuid.New()
	refundID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "refund_transactions" WHERE .*refund_id = \$1 AND tenant_id = \$2.* FOR UPDATE`).
		WithArgs(refundID, tenantID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "refund_id", "transaction_id", "status", "gateway_response"}).
			AddRow(uuid.NewString(), refundID.String(), "RTX_01JABCDEF", "processing", `{"id":"rfnd_1"}`))

	txn, err := repo.FindByRefundIDForUpdate(context.Background(), tenantID, refundID)

	require.NoError(t, err)
	assert.Equal(t, refund.TransactionStatusProcessing, txn.Status)
	assert.JSONEq(t, `{"id":"rfnd_1"}`, string(txn.GatewayResponse))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRefundTransactionRepository_SQLite(t *testing.T) {
	db := setupRefundTestDB(t)
	refunds := NewGormRefundRepository(db)
	repo := NewGormRefundTransactionRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	customerID := uuid.New()
	sale := seedSale(t, db, tenantID, customerID, "5000.00")
	payment := seedPayment(t, db, tenantID, sale.PaymentReference, "5000.00", refund.PaymentStatusCaptured)

	newTxn := func(amount string) (*refund.Refund, *refund.RefundTransaction) {
		r := newTestRefund(t, tenantID, customerID, sale.ID, amount, "razorpay")
		require.NoError(t, refunds.Create(ctx, r))
		txn := refund.NewRefundTransaction(r, payment, repoTestNow)
		require.NoError(t, repo.Create(ctx, txn))
		return r, txn
	}

	r1, txn1 := newTxn("100.00")
	_, txn2 := newTxn("250.00")
	_, txn3 := newTxn("40.00")

	require.NoError(t, txn1.StartAttempt(repoTestNow))
	require.NoError(t, repo.Save(ctx, txn1))
	require.NoError(t, txn2.StartAttempt(repoTestNow.Add(20*time.Minute)))
	require.NoError(t, repo.Save(ctx, txn2))
	require.NoError(t, txn3.StartAttempt(repoTestNow))
	txn3.RecordFailure("card expired", repoTestNow)
	require.NoError(t, repo.Save(ctx, txn3))

	t.Run("save updates the row in place", func(t *testing.T) {
		stored, err := repo.FindByRefundID(ctx, tenantID, r1.ID)
		require.NoError(t, err)
		assert.Equal(t, txn1.ID, stored.ID)
		assert.Equal(t, txn1.TransactionID, stored.TransactionID)
		assert.Equal(t, refund.TransactionStatusProcessing, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
	})

	t.Run("save keeps the caller's clock", func(t *testing.T) {
		stored, err := repo.FindByIDForTenant(ctx, tenantID, txn2.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, repoTestNow.Add(20*time.Minute), stored.UpdatedAt, time.Second)
		assert.WithinDuration(t, repoTestNow, stored.CreatedAt, time.Second)
	})

	t.Run("saving an unknown transaction is not found", func(t *testing.T) {
		ghost := refund.NewRefundTransaction(r1, payment, repoTestNow)
		assert.ErrorIs(t, repo.Save(ctx, ghost), shared.ErrNotFound)
	})

	t.Run("failure payload round-trips", func(t *testing.T) {
		stored, err := repo.FindByIDForTenant(ctx, tenantID, txn3.ID)
		require.NoError(t, err)
		assert.Equal(t, refund.TransactionStatusFailed, stored.Status)
		assert.JSONEq(t, `{"error":"card expired"}`, string(stored.GatewayResponse))
	})

	t.Run("in-flight sum covers processing attempts of other refunds", func(t *testing.T) {
		sum, err := repo.SumInFlightByPayment(ctx, tenantID, payment.ID, uuid.New())
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("350").Equal(sum), "got %s", sum)

		sum, err = repo.SumInFlightByPayment(ctx, tenantID, payment.ID, r1.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("250").Equal(sum), "got %s", sum)
	})

	t.Run("an attempt the gateway left pending still counts as in flight", func(t *testing.T) {
		txn2.RecordSuccess(&refund.GatewayRefundResult{RefundID: "rfnd_p3nd", Status: refund.GatewayRefundStatusPending}, repoTestNow.Add(20*time.Minute))
		require.NoError(t, repo.Save(ctx, txn2))

		sum, err := repo.SumInFlightByPayment(ctx, tenantID, payment.ID, r1.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("250").Equal(sum), "got %s", sum)
	})

	t.Run("stuck transactions are processing and older than the cutoff", func(t *testing.T) {
		stuck, err := repo.FindStuck(ctx, repoTestNow.Add(10*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		assert.Equal(t, txn1.ID, stuck[0].ID)

		stuck, err = repo.FindStuck(ctx, repoTestNow.Add(time.Hour), 1)
		require.NoError(t, err)
		assert.Len(t, stuck, 1)
	})

	t.Run("missing transaction is not found", func(t *testing.T) {
		_, err := repo.FindByRefundIDForUpdate(ctx, tenantID, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormPaymentRepository_SQLite(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewGormPaymentRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	captured := seedPayment(t, db, tenantID, "pay_captured", "1000.00", refund.PaymentStatusCaptured)
	seedPayment(t, db, tenantID, "pay_authorized", "1000.00", refund.PaymentStatusAuthorized)

	t.Run("only captured payments are found by external id", func(t *testing.T) {
		p, err := repo.FindCapturedByExternalIDForUpdate(ctx, tenantID, "pay_captured")
		require.NoError(t, err)
		assert.Equal(t, captured.ID, p.ID)

		_, err = repo.FindCapturedByExternalIDForUpdate(ctx, tenantID, "pay_authorized")
		assert.ErrorIs(t, err, shared.ErrNotFound)

		_, err = repo.FindCapturedByExternalIDForUpdate(ctx, uuid.New(), "pay_captured")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("save writes refund totals", func(t *testing.T) {
		p, err := repo.FindByIDForUpdate(ctx, tenantID, captured.ID)
		require.NoError(t, err)
		p.RecordRefund(decimal.RequireFromString("400"), repoTestNow)
		require.NoError(t, repo.Save(ctx, p))

		stored, err := repo.FindByIDForTenant(ctx, tenantID, captured.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("400").Equal(stored.RefundedAmount))
		assert.Equal(t, refund.PaymentPartiallyRefunded, stored.RefundStatus)
	})
}
