package persistence

import (
	"context"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"gorm.io/gorm"
)

// GormRefundTransactionScope implements the refund TransactionScope using GORM transactions.
// Every repository handed to fn shares the same database transaction.
type GormRefundTransactionScope struct {
	db *gorm.DB
}

// NewGormRefundTransactionScope creates a new GormRefundTransactionScope.
func NewGormRefundTransactionScope(db *gorm.DB) *GormRefundTransactionScope {
	return &GormRefundTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormRefundTransactionScope) Execute(ctx context.Context, fn func(repos appref.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRefundRepositories{tx: tx})
	})
}

// gormRefundRepositories provides access to all refund repositories within a transaction.
type gormRefundRepositories struct {
	tx *gorm.DB
}

func (r *gormRefundRepositories) RefundRepo() refund.RefundRepository {
	return NewGormRefundRepository(r.tx)
}

func (r *gormRefundRepositories) CreditNoteRepo() refund.CreditNoteRepository {
	return NewGormCreditNoteRepository(r.tx)
}

func (r *gormRefundRepositories) TransactionRepo() refund.RefundTransactionRepository {
	return NewGormRefundTransactionRepository(r.tx)
}

func (r *gormRefundRepositories) PaymentRepo() refund.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormRefundRepositories) SourceRepo() refund.SourceRepository {
	return NewGormSourceRepository(r.tx)
}

func (r *gormRefundRepositories) CustomerRepo() refund.CustomerRepository {
	return NewGormCustomerRepository(r.tx)
}

// Ensure GormRefundTransactionScope implements TransactionScope
var _ appref.TransactionScope = (*GormRefundTransactionScope)(nil)

// Ensure gormRefundRepositories implements TransactionalRepositories
var _ appref.TransactionalRepositories = (*gormRefundRepositories)(nil)
