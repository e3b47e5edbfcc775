package refund

import (
	"context"
	"sync"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"go.uber.org/zap"
)

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// StuckAfter is how long a transaction may stay in processing before it is swept
	StuckAfter time.Duration
}

// DefaultReconcilerConfig returns default configuration
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		BatchSize:    50,
		PollInterval: time.Minute,
		StuckAfter:   10 * time.Minute,
	}
}

// Reconciler settles refund transactions left in processing: either the
// gateway answered pending, or the process stopped between the gateway call
// and recording its outcome.
type Reconciler struct {
	scope    TransactionScope
	service  *RefundService
	gateways refund.GatewayRegistry
	clock    Clock
	config   ReconcilerConfig
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(
	scope TransactionScope,
	service *RefundService,
	gateways refund.GatewayRegistry,
	config ReconcilerConfig,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		scope:    scope,
		service:  service,
		gateways: gateways,
		clock:    systemClock{},
		config:   config,
		logger:   logger,
	}
}

// SetClock replaces the time source
func (r *Reconciler) SetClock(clock Clock) { r.clock = clock }

// Start starts the background sweep
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("refund reconciler started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Duration("stuck_after", r.config.StuckAfter),
	)
	return nil
}

// Stop gracefully stops the reconciler
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("refund reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("refund reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

type stuckTransaction struct {
	txn               refund.RefundTransaction
	paymentExternalID string
}

// RunOnce sweeps one batch and returns how many transactions were settled
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.config.StuckAfter)

	var stuck []stuckTransaction
	err := r.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		txns, err := repos.TransactionRepo().FindStuck(ctx, cutoff, r.config.BatchSize)
		if err != nil {
			return err
		}
		for _, txn := range txns {
			entry := stuckTransaction{txn: txn}
			if payment, err := repos.PaymentRepo().FindByIDForTenant(ctx, txn.TenantID, txn.PaymentID); err == nil {
				entry.paymentExternalID = payment.ExternalID
			}
			stuck = append(stuck, entry)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, entry := range stuck {
		if r.reconcile(ctx, entry) {
			settled++
		}
	}
	return settled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, entry stuckTransaction) bool {
	txn := entry.txn
	fields := []zap.Field{
		zap.String("tenant_id", txn.TenantID.String()),
		zap.String("transaction_id", txn.TransactionID),
		zap.String("gateway", txn.Gateway),
	}

	var result *refund.GatewayRefundResult
	if txn.GatewayRefundID != "" {
		gateway, err := r.gateways.Get(txn.Gateway)
		if err != nil {
			r.logger.Warn("cannot reconcile transaction, gateway not configured", append(fields, zap.Error(err))...)
			return false
		}
		result, err = gateway.FetchRefund(ctx, entry.paymentExternalID, txn.GatewayRefundID)
		if err != nil {
			r.logger.Warn("gateway status lookup failed, will retry", append(fields, zap.Error(err))...)
			return false
		}
		if result.Status == refund.GatewayRefundStatusPending {
			return false
		}
	}

	if err := r.service.ReconcileOutcome(ctx, txn.TenantID, txn.RefundID, result); err != nil {
		r.logger.Error("failed to reconcile refund transaction", append(fields, zap.Error(err))...)
		return false
	}
	if result == nil {
		r.logger.Warn("refund transaction had no gateway outcome, marked failed for retry", fields...)
	} else {
		r.logger.Info("refund transaction settled from gateway status",
			append(fields, zap.String("gateway_status", string(result.Status)))...)
	}
	return true
}
