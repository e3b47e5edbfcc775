package refund

import (
	"context"

	"github.com/erp/settlement/internal/domain/refund"
)

// TransactionScope provides transactional access to the refund repositories.
// When a function is executed within a transaction scope, all repository operations
// will be part of the same database transaction and will be committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all refund repositories within a transaction.
// All repositories returned share the same underlying database transaction.
//
// Lock order inside one transaction is always refund, then source, then payment,
// then credit notes.
type TransactionalRepositories interface {
	RefundRepo() refund.RefundRepository
	CreditNoteRepo() refund.CreditNoteRepository
	TransactionRepo() refund.RefundTransactionRepository
	PaymentRepo() refund.PaymentRepository
	SourceRepo() refund.SourceRepository
	CustomerRepo() refund.CustomerRepository
}
