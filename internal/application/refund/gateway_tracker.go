package refund

import (
	"context"
	"errors"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	errPaymentNotCaptured = "Original payment not found or not captured"
	reasonGatewayFailed   = "gateway reported the refund as failed"
)

// PreparedAttempt is the state committed by the first phase of a gateway refund
// and handed to Submit once that transaction is closed.
type PreparedAttempt struct {
	RefundID        uuid.UUID
	RefundReference string
	Gateway         string
	Amount          decimal.Decimal
	Transaction     *refund.RefundTransaction
	Payment         *refund.Payment
	Eligibility     refund.Eligibility
}

// GatewayOutcome is the result of the external refund call. A failed call is
// carried in Err and never returned as an error.
type GatewayOutcome struct {
	Result *refund.GatewayRefundResult
	Err    error
}

// Succeeded reports whether the gateway accepted the refund
func (o *GatewayOutcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// FailureReason is the text stored on the transaction for a failed call
func (o *GatewayOutcome) FailureReason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// TransactionStatusView is a side-effect free read of a transaction and,
// when reachable, the gateway's own view of it
type TransactionStatusView struct {
	Transaction   *refund.RefundTransaction
	GatewayStatus refund.GatewayRefundStatus
	GatewayError  string
}

// GatewayTracker owns the RefundTransaction of a money refund and the
// two-phase protocol around the network call.
type GatewayTracker struct {
	scope    TransactionScope
	gateways refund.GatewayRegistry
	metrics  Metrics
	logger   *zap.Logger
}

// NewGatewayTracker creates a GatewayTracker
func NewGatewayTracker(scope TransactionScope, gateways refund.GatewayRegistry) *GatewayTracker {
	return &GatewayTracker{
		scope:    scope,
		gateways: gateways,
		metrics:  noopMetrics{},
		logger:   zap.NewNop(),
	}
}

// SetMetrics sets the business metrics recorder
func (t *GatewayTracker) SetMetrics(metrics Metrics) { t.metrics = metrics }

// SetLogger sets the logger
func (t *GatewayTracker) SetLogger(logger *zap.Logger) { t.logger = logger }

// Supports reports whether method names a configured gateway
func (t *GatewayTracker) Supports(method refund.Method) bool {
	return t.gateways != nil && t.gateways.Has(method.String())
}

// Prepare runs inside the first transaction, with the refund and its source
// already locked and the refund in processing. It locks the captured payment,
// checks eligibility and creates or reuses the transaction.
//
// An ineligible refund comes back with Eligibility.Eligible false and both the
// refund and the transaction marked failed; the caller must still commit.
func (t *GatewayTracker) Prepare(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, src refund.SourceTransaction, now time.Time) (*PreparedAttempt, error) {
	if !t.Supports(r.Method) {
		return nil, shared.NewDomainError(refund.CodeGatewayUnsupported, "Refund method "+r.Method.String()+" is not a configured payment gateway")
	}
	if src.PaymentReference() == "" {
		return nil, refund.NewGatewayPreconditionError(errPaymentNotCaptured)
	}

	payment, err := repos.PaymentRepo().FindCapturedByExternalIDForUpdate(ctx, r.TenantID, src.PaymentReference())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, refund.NewGatewayPreconditionError(errPaymentNotCaptured)
		}
		return nil, err
	}

	inflight, err := repos.TransactionRepo().SumInFlightByPayment(ctx, r.TenantID, payment.ID, r.ID)
	if err != nil {
		return nil, err
	}
	eligibility := t.CheckEligibility(payment, r.Amount, inflight)

	txn, isNew, err := t.findOrCreateTransaction(ctx, repos, r, payment, now)
	if err != nil {
		return nil, err
	}

	if !eligibility.Eligible {
		txn.RecordFailure(eligibility.Reason, now)
		if err := r.Fail(eligibility.Reason, now); err != nil {
			return nil, err
		}
	} else if err := txn.StartAttempt(now); err != nil {
		return nil, err
	}

	if isNew {
		err = repos.TransactionRepo().Create(ctx, txn)
	} else {
		err = repos.TransactionRepo().Save(ctx, txn)
	}
	if err != nil {
		return nil, err
	}

	return &PreparedAttempt{
		RefundID:        r.ID,
		RefundReference: r.Reference,
		Gateway:         r.Method.String(),
		Amount:          r.Amount,
		Transaction:     txn,
		Payment:         payment,
		Eligibility:     eligibility,
	}, nil
}

func (t *GatewayTracker) findOrCreateTransaction(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, payment *refund.Payment, now time.Time) (*refund.RefundTransaction, bool, error) {
	txn, err := repos.TransactionRepo().FindByRefundIDForUpdate(ctx, r.TenantID, r.ID)
	switch {
	case err == nil:
		// a retry reuses the row and its idempotency key
		txn.PaymentID = payment.ID
		txn.Amount = r.Amount
		return txn, false, nil
	case errors.Is(err, shared.ErrNotFound):
		return refund.NewRefundTransaction(r, payment, now), true, nil
	default:
		return nil, false, err
	}
}

// CheckEligibility reports whether amount can be refunded from payment while
// inflight is already committed to other attempts. It never fails.
func (t *GatewayTracker) CheckEligibility(payment *refund.Payment, amount, inflight decimal.Decimal) refund.Eligibility {
	return payment.CheckEligibility(amount, inflight)
}

// Submit performs the gateway call. It must not run inside a database transaction.
func (t *GatewayTracker) Submit(ctx context.Context, attempt *PreparedAttempt) *GatewayOutcome {
	gateway, err := t.gateways.Get(attempt.Gateway)
	if err != nil {
		return &GatewayOutcome{Err: refund.NewGatewayCallError(attempt.Gateway, err)}
	}

	req := refund.GatewayRefundRequest{
		PaymentExternalID: attempt.Payment.ExternalID,
		AmountMinor:       refund.ToMinorUnits(attempt.Amount),
		IdempotencyKey:    attempt.RefundReference,
		Notes: map[string]string{
			"refund_reference": attempt.RefundReference,
			"transaction_id":   attempt.Transaction.TransactionID,
		},
	}

	started := time.Now()
	result, err := gateway.Refund(ctx, req)
	elapsed := time.Since(started)

	switch {
	case err != nil:
		t.metrics.GatewayCall(ctx, attempt.Gateway, "error", elapsed)
		t.logger.Warn("Gateway refund call failed",
			zap.String("gateway", attempt.Gateway),
			zap.String("refund_reference", attempt.RefundReference),
			zap.String("transaction_id", attempt.Transaction.TransactionID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return &GatewayOutcome{Err: refund.NewGatewayCallError(attempt.Gateway, err)}
	case result.Status.TransactionStatus() == refund.TransactionStatusFailed:
		t.metrics.GatewayCall(ctx, attempt.Gateway, "rejected", elapsed)
		return &GatewayOutcome{
			Result: result,
			Err:    refund.NewGatewayCallError(attempt.Gateway, errors.New(reasonGatewayFailed)),
		}
	}

	t.metrics.GatewayCall(ctx, attempt.Gateway, string(result.Status), elapsed)
	t.logger.Info("Gateway refund accepted",
		zap.String("gateway", attempt.Gateway),
		zap.String("refund_reference", attempt.RefundReference),
		zap.String("gateway_refund_id", result.RefundID),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", elapsed))
	return &GatewayOutcome{Result: result}
}

// Record stores the outcome of Submit on the transaction and, once the
// gateway has processed the refund, on the payment. A pending answer leaves
// the transaction in processing for the reconciler. It runs inside the second
// transaction with the refund and its source locked.
func (t *GatewayTracker) Record(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, attempt *PreparedAttempt, outcome *GatewayOutcome, now time.Time) (*refund.RefundTransaction, error) {
	txn, err := repos.TransactionRepo().FindByRefundIDForUpdate(ctx, r.TenantID, r.ID)
	if err != nil {
		return nil, mapNotFound(err, "Refund transaction")
	}

	if !outcome.Succeeded() {
		txn.RecordFailure(outcome.FailureReason(), now)
		if outcome.Result != nil && len(outcome.Result.Raw) > 0 {
			txn.GatewayResponse = outcome.Result.Raw
		}
		if err := repos.TransactionRepo().Save(ctx, txn); err != nil {
			return nil, err
		}
		return txn, nil
	}

	if err := t.Settle(ctx, repos, txn, outcome.Result, now); err != nil {
		return nil, err
	}
	return txn, nil
}

// Settle applies a gateway answer to an in-flight transaction. A processed
// refund is added to the payment totals, a failed one marks the transaction
// failed and a pending one keeps it in processing.
func (t *GatewayTracker) Settle(ctx context.Context, repos TransactionalRepositories, txn *refund.RefundTransaction, result *refund.GatewayRefundResult, now time.Time) error {
	if result.Status.TransactionStatus() == refund.TransactionStatusFailed {
		txn.RecordFailure(reasonGatewayFailed, now)
		if len(result.Raw) > 0 {
			txn.GatewayResponse = result.Raw
		}
		return repos.TransactionRepo().Save(ctx, txn)
	}

	var payment *refund.Payment
	if result.Status.TransactionStatus() == refund.TransactionStatusCompleted {
		var err error
		payment, err = repos.PaymentRepo().FindByIDForUpdate(ctx, txn.TenantID, txn.PaymentID)
		if err != nil {
			return mapNotFound(err, "Payment")
		}
	}

	txn.RecordSuccess(result, now)
	if err := repos.TransactionRepo().Save(ctx, txn); err != nil {
		return err
	}
	if payment == nil {
		return nil
	}
	payment.RecordRefund(txn.Amount, now)
	return repos.PaymentRepo().Save(ctx, payment)
}

// FetchStatus reads a transaction and asks its gateway for the current state.
// Nothing is written.
func (t *GatewayTracker) FetchStatus(ctx context.Context, tenantID, txnID uuid.UUID) (*TransactionStatusView, error) {
	var (
		txn     *refund.RefundTransaction
		payment *refund.Payment
	)
	err := t.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		txn, err = repos.TransactionRepo().FindByIDForTenant(ctx, tenantID, txnID)
		if err != nil {
			return mapNotFound(err, "Refund transaction")
		}
		payment, err = repos.PaymentRepo().FindByIDForTenant(ctx, tenantID, txn.PaymentID)
		if err != nil {
			return mapNotFound(err, "Payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view := &TransactionStatusView{Transaction: txn}
	if txn.GatewayRefundID == "" {
		return view, nil
	}
	gateway, err := t.gateways.Get(txn.Gateway)
	if err != nil {
		view.GatewayError = err.Error()
		return view, nil
	}
	result, err := gateway.FetchRefund(ctx, payment.ExternalID, txn.GatewayRefundID)
	if err != nil {
		view.GatewayError = err.Error()
		return view, nil
	}
	view.GatewayStatus = result.Status
	return view, nil
}

// HealthCheck pings the named gateway
func (t *GatewayTracker) HealthCheck(ctx context.Context, gatewayName string) error {
	gateway, err := t.gateways.Get(gatewayName)
	if err != nil {
		return shared.NewDomainError(refund.CodeGatewayUnsupported, "Unknown payment gateway: "+gatewayName)
	}
	if err := gateway.Ping(ctx); err != nil {
		return refund.NewGatewayCallError(gatewayName, err)
	}
	return nil
}
