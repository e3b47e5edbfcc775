package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormSourceRepository_FindSale_Locking(t *testing.T) {
	t.Run("locked read uses FOR UPDATE", func(t *testing.T) {
		gormDB, mock, mockDB := newMockRefundDB(t)
		defer mockDB.Close()
		repo := NewGormSourceRepository(gormDB)

		tenantID, saleID := uuid.New(), uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "sales" WHERE .*id = \$1 AND tenant_id = \$2.* FOR UPDATE`).
			WithArgs(saleID, tenantID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "total_amount", "refund_status"}).
				AddRow(saleID.String(), tenantID.String(), "1000.00", "partial"))

		sale, err := repo.FindSale(context.Background(), tenantID, saleID, true)

		require.NoError(t, err)
		assert.Equal(t, refund.SourceRefundStatusPartial, sale.RefundStatus())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("plain read has no locking clause", func(t *testing.T) {
		gormDB, mock, mockDB := newMockRefundDB(t)
		defer mockDB.Close()
		repo := NewGormSourceRepository(gormDB)

		tenantID, orderID := uuid.New(), uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "orders" WHERE .*id = \$1 AND tenant_id = \$2.* LIMIT \$3$`).
			WithArgs(orderID, tenantID, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "total_amount"}).
				AddRow(orderID.String(), tenantID.String(), "80.00"))

		order, err := repo.FindOrder(context.Background(), tenantID, orderID, false)

		require.NoError(t, err)
		assert.Equal(t, orderID, order.SourceID())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSourceRepository_SQLite(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewGormSourceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	customerID := uuid.New()
	sale := seedSale(t, db, tenantID, customerID, "1000.00")

	t.Run("refund totals are written back to the sale", func(t *testing.T) {
		src, err := repo.FindSale(ctx, tenantID, sale.ID, true)
		require.NoError(t, err)

		src.RecordRefundTotals(decimal.RequireFromString("1000"), repoTestNow)
		require.NoError(t, repo.SaveRefundTotals(ctx, tenantID, src))

		stored, err := repo.FindSale(ctx, tenantID, sale.ID, false)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("1000").Equal(stored.RefundedAmount()))
		assert.Equal(t, refund.SourceRefundStatusFull, stored.RefundStatus())
	})

	t.Run("refund totals are written back to the order", func(t *testing.T) {
		order := &models.OrderModel{
			BaseModel:        models.BaseModel{ID: uuid.New(), CreatedAt: repoTestNow, UpdatedAt: repoTestNow},
			TenantID:         tenantID,
			CustomerID:       customerID,
			TotalAmount:      decimal.RequireFromString("80.00"),
			PaymentReference: "pay_order",
			RefundedAmount:   decimal.Zero,
			RefundStatus:     string(refund.SourceRefundStatusNone),
		}
		require.NoError(t, db.Create(order).Error)

		src, err := repo.FindOrder(ctx, tenantID, order.ID, true)
		require.NoError(t, err)
		src.RecordRefundTotals(decimal.RequireFromString("30"), repoTestNow)
		require.NoError(t, repo.SaveRefundTotals(ctx, tenantID, src))

		stored, err := repo.FindOrder(ctx, tenantID, order.ID, false)
		require.NoError(t, err)
		assert.Equal(t, refund.SourceRefundStatusPartial, stored.RefundStatus())
	})

	t.Run("sale return resolves to its sale", func(t *testing.T) {
		ret := &models.SaleReturnModel{
			BaseModel:  models.BaseModel{ID: uuid.New(), CreatedAt: repoTestNow, UpdatedAt: repoTestNow},
			TenantID:   tenantID,
			SaleID:     sale.ID,
			CustomerID: &customerID,
		}
		require.NoError(t, db.Create(ret).Error)

		found, err := repo.FindSaleReturn(ctx, tenantID, ret.ID)
		require.NoError(t, err)
		assert.Equal(t, sale.ID, found.SaleID)
	})

	t.Run("other tenants cannot see the sale", func(t *testing.T) {
		_, err := repo.FindSale(ctx, uuid.New(), sale.ID, false)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("customers are tenant scoped", func(t *testing.T) {
		customer := &models.CustomerModel{
			BaseModel: models.BaseModel{ID: customerID, CreatedAt: repoTestNow, UpdatedAt: repoTestNow},
			TenantID:  tenantID,
			Name:      "Asha Rao",
			Email:     "asha@example.com",
		}
		require.NoError(t, db.Create(customer).Error)

		customers := NewGormCustomerRepository(db)
		found, err := customers.FindByIDForTenant(ctx, tenantID, customerID)
		require.NoError(t, err)
		assert.Equal(t, "Asha Rao", found.Name)

		_, err = customers.FindByIDForTenant(ctx, uuid.New(), customerID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
