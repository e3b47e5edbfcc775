package refund

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/erp/settlement/internal/application/refund")

var (
	completedStatuses = []refund.Status{refund.StatusCompleted}
	reservedStatuses  = []refund.Status{refund.StatusProcessing, refund.StatusCompleted}
)

// RefundService drives refunds through their lifecycle and settles them as
// a credit note or a gateway money transfer.
type RefundService struct {
	scope          TransactionScope
	resolver       *SourceResolver
	ledger         *CreditLedger
	tracker        *GatewayTracker
	references     ReferenceGenerator
	clock          Clock
	cache          StatisticsCache
	metrics        Metrics
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// NewRefundService creates a new RefundService
func NewRefundService(
	scope TransactionScope,
	ledger *CreditLedger,
	tracker *GatewayTracker,
	references ReferenceGenerator,
) *RefundService {
	return &RefundService{
		scope:      scope,
		resolver:   NewSourceResolver(),
		ledger:     ledger,
		tracker:    tracker,
		references: references,
		clock:      systemClock{},
		cache:      noopStatisticsCache{},
		metrics:    noopMetrics{},
		logger:     zap.NewNop(),
	}
}

// SetEventPublisher sets the event publisher for refund notifications
func (s *RefundService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetClock replaces the time source
func (s *RefundService) SetClock(clock Clock) { s.clock = clock }

// SetStatisticsCache sets the statistics cache
func (s *RefundService) SetStatisticsCache(cache StatisticsCache) { s.cache = cache }

// SetMetrics sets the business metrics recorder
func (s *RefundService) SetMetrics(metrics Metrics) { s.metrics = metrics }

// SetLogger sets the logger
func (s *RefundService) SetLogger(logger *zap.Logger) { s.logger = logger }

// CreateRefundRequest validates a refund against its source transaction and
// stores it as pending.
func (s *RefundService) CreateRefundRequest(ctx context.Context, tenantID uuid.UUID, in CreateRefundInput) (resp *RefundResponse, err error) {
	ctx, span := tracer.Start(ctx, "refund.create", trace.WithAttributes(attribute.String("tenant_id", tenantID.String())))
	defer func() { endSpan(span, err) }()

	ref := refund.SourceRef{SaleID: in.SaleID, OrderID: in.OrderID, SaleReturnID: in.SaleReturnID}
	if ref.IsEmpty() {
		return nil, refund.NewValidationError("A sale, order or sale return reference is required")
	}
	amount := refund.RoundAmount(in.Amount)
	method := refund.Method(strings.TrimSpace(in.Method))
	now := s.clock.Now()

	var created *refund.Refund
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		src, err := s.resolver.Resolve(ctx, repos, tenantID, ref, true)
		if err != nil {
			return err
		}

		customerID, err := s.resolveCustomer(ctx, repos, tenantID, in.CustomerID, src)
		if err != nil {
			return err
		}

		if !amount.IsPositive() {
			return refund.NewValidationError("Refund amount must be greater than zero")
		}
		completed, err := repos.RefundRepo().SumBySource(ctx, tenantID, src.SourceType(), src.SourceID(), completedStatuses, nil)
		if err != nil {
			return err
		}
		if amount.Add(completed).GreaterThan(src.Total()) {
			return refund.NewExceedsRefundableError(refund.MaxRefundable(src, completed))
		}

		if err := s.validateMethod(method); err != nil {
			return err
		}

		// a sale return settles against its sale, so the refund carries both
		if src.SourceType() == refund.SourceTypeSale && ref.SaleID == nil {
			saleID := src.SourceID()
			ref.SaleID = &saleID
		}

		params := refund.NewRefundParams{
			Source:     ref,
			CustomerID: customerID,
			Amount:     amount,
			Method:     method,
			Reason:     in.Reason,
			Items:      toItemParams(in.Items),
			ActorID:    in.ActorID,
		}
		return withFreshReference(func() string { return s.references.RefundReference(now) }, func(reference string) error {
			r, err := refund.NewRefund(tenantID, params, reference, now)
			if err != nil {
				return err
			}
			if err := repos.RefundRepo().Create(ctx, r); err != nil {
				if errors.Is(err, shared.ErrAlreadyExists) {
					s.logger.Warn("Refund reference taken, drawing another", zap.String("reference", reference))
				}
				return err
			}
			created = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, created)
	s.logger.Info("Refund requested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("reference", created.Reference),
		zap.String("method", created.Method.String()),
		zap.String("amount", created.Amount.StringFixed(refund.AmountScale)))

	out := ToRefundResponse(created)
	return &out, nil
}

func (s *RefundService) resolveCustomer(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, explicit *uuid.UUID, src refund.SourceTransaction) (uuid.UUID, error) {
	if explicit != nil && *explicit != uuid.Nil {
		customer, err := repos.CustomerRepo().FindByIDForTenant(ctx, tenantID, *explicit)
		if err != nil {
			return uuid.Nil, mapNotFound(err, "Customer")
		}
		return customer.ID, nil
	}
	if src.Owner() == uuid.Nil {
		return uuid.Nil, refund.NewValidationError("Customer is required")
	}
	return src.Owner(), nil
}

func (s *RefundService) validateMethod(method refund.Method) error {
	switch {
	case method == "":
		return refund.NewValidationError("Refund method is required")
	case method.IsCreditNote(), s.tracker != nil && s.tracker.Supports(method):
		return nil
	default:
		return refund.NewValidationError("Unsupported refund method: " + method.String())
	}
}

// ApproveRefund approves a pending refund and immediately processes it. When
// processing cannot start, nothing is kept and the refund stays pending.
func (s *RefundService) ApproveRefund(ctx context.Context, tenantID, id uuid.UUID, in ApproveInput) (resp *RefundResponse, err error) {
	ctx, span := tracer.Start(ctx, "refund.approve", trace.WithAttributes(attribute.String("refund_id", id.String())))
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	var (
		r       *refund.Refund
		attempt *PreparedAttempt
	)
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = s.loadForUpdate(ctx, repos, tenantID, id)
		if err != nil {
			return err
		}
		if err := r.Approve(in.ActorID, in.Notes, now); err != nil {
			return err
		}
		attempt, err = s.startProcessing(ctx, repos, r, now)
		if err != nil {
			return err
		}
		return repos.RefundRepo().SaveWithLock(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, r)

	return s.settle(ctx, tenantID, r, attempt)
}

// RejectRefund rejects a pending refund. The rejection is final.
func (s *RefundService) RejectRefund(ctx context.Context, tenantID, id uuid.UUID, in RejectInput) (resp *RefundResponse, err error) {
	ctx, span := tracer.Start(ctx, "refund.reject", trace.WithAttributes(attribute.String("refund_id", id.String())))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.Reason) == "" {
		return nil, refund.NewValidationError("Rejection reason is required")
	}
	r, err := s.transition(ctx, tenantID, id, func(r *refund.Refund, now time.Time) error {
		return r.Reject(in.ActorID, in.Reason, in.Notes, now)
	})
	if err != nil {
		return nil, err
	}
	out := ToRefundResponse(r)
	return &out, nil
}

// CancelRefund withdraws a pending refund
func (s *RefundService) CancelRefund(ctx context.Context, tenantID, id uuid.UUID, actorID *uuid.UUID) (resp *RefundResponse, err error) {
	ctx, span := tracer.Start(ctx, "refund.cancel", trace.WithAttributes(attribute.String("refund_id", id.String())))
	defer func() { endSpan(span, err) }()

	r, err := s.transition(ctx, tenantID, id, func(r *refund.Refund, now time.Time) error {
		if err := r.Cancel(now); err != nil {
			return err
		}
		if actorID != nil {
			r.ProcessedBy = actorID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := ToRefundResponse(r)
	return &out, nil
}

// transition applies fn to a locked refund and saves it in one transaction
func (s *RefundService) transition(ctx context.Context, tenantID, id uuid.UUID, fn func(r *refund.Refund, now time.Time) error) (*refund.Refund, error) {
	now := s.clock.Now()
	var r *refund.Refund
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = s.loadForUpdate(ctx, repos, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(r, now); err != nil {
			return err
		}
		return repos.RefundRepo().SaveWithLock(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, r)
	return r, nil
}

// ProcessRefund settles an approved refund, or retries a failed one. A gateway
// failure is not an error: the refund comes back failed and can be retried.
func (s *RefundService) ProcessRefund(ctx context.Context, tenantID, id uuid.UUID, actorID *uuid.UUID) (resp *RefundResponse, err error) {
	ctx, span := tracer.Start(ctx, "refund.process", trace.WithAttributes(attribute.String("refund_id", id.String())))
	defer func() { endSpan(span, err) }()

	now := s.clock.Now()
	var (
		r       *refund.Refund
		attempt *PreparedAttempt
	)
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = s.loadForUpdate(ctx, repos, tenantID, id)
		if err != nil {
			return err
		}
		if r.Status != refund.StatusApproved && r.Status != refund.StatusFailed {
			return refund.NewInvalidStateError("Only approved or failed refunds can be processed, current status is " + r.Status.String())
		}
		if actorID != nil {
			r.ProcessedBy = actorID
		}
		attempt, err = s.startProcessing(ctx, repos, r, now)
		if err != nil {
			return err
		}
		return repos.RefundRepo().SaveWithLock(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, r)

	return s.settle(ctx, tenantID, r, attempt)
}

// startProcessing moves a locked refund to processing and runs the first
// phase of settlement. Credit-note refunds complete here; gateway refunds
// return the attempt to submit once the transaction commits.
func (s *RefundService) startProcessing(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, now time.Time) (*PreparedAttempt, error) {
	if err := r.StartProcessing(now); err != nil {
		return nil, err
	}

	src, err := s.resolver.Resolve(ctx, repos, r.TenantID, r.Source(), true)
	if err != nil {
		return nil, err
	}
	reserved, err := repos.RefundRepo().SumBySource(ctx, r.TenantID, src.SourceType(), src.SourceID(), reservedStatuses, &r.ID)
	if err != nil {
		return nil, err
	}
	if r.Amount.Add(reserved).GreaterThan(src.Total()) {
		return nil, refund.NewExceedsRefundableError(refund.MaxRefundable(src, reserved))
	}

	if r.Method.IsCreditNote() {
		note, err := s.ledger.Issue(ctx, repos, r, now)
		if err != nil {
			return nil, err
		}
		if err := r.CompleteWithCreditNote(note.ID, now); err != nil {
			return nil, err
		}
		return nil, s.recordSourceTotals(ctx, repos, r, src, now)
	}

	if s.tracker == nil {
		return nil, shared.NewDomainError(refund.CodeGatewayUnsupported, "No payment gateways are configured")
	}
	return s.tracker.Prepare(ctx, repos, r, src, now)
}

// settle runs the gateway call and the second phase for an eligible attempt.
// Without one the committed refund is returned as is.
func (s *RefundService) settle(ctx context.Context, tenantID uuid.UUID, r *refund.Refund, attempt *PreparedAttempt) (*RefundResponse, error) {
	if attempt != nil && attempt.Eligibility.Eligible {
		settled, err := s.completeGatewayRefund(ctx, tenantID, attempt)
		if err != nil {
			return nil, err
		}
		r = settled
	}
	return s.GetRefund(ctx, tenantID, r.ID)
}

// completeGatewayRefund calls the gateway outside any transaction and records
// the outcome in a second one
func (s *RefundService) completeGatewayRefund(ctx context.Context, tenantID uuid.UUID, attempt *PreparedAttempt) (*refund.Refund, error) {
	outcome := s.tracker.Submit(ctx, attempt)
	now := s.clock.Now()

	var r *refund.Refund
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = s.loadForUpdate(ctx, repos, tenantID, attempt.RefundID)
		if err != nil {
			return err
		}
		if r.Status != refund.StatusProcessing {
			return refund.NewInvalidStateError("Refund " + r.Reference + " is no longer processing, current status is " + r.Status.String())
		}
		src, err := s.resolver.Resolve(ctx, repos, tenantID, r.Source(), true)
		if err != nil {
			return err
		}
		txn, err := s.tracker.Record(ctx, repos, r, attempt, outcome, now)
		if err != nil {
			return err
		}
		if err := s.applyTransactionStatus(ctx, repos, r, src, txn, now); err != nil {
			return err
		}
		return repos.RefundRepo().SaveWithLock(ctx, r)
	})
	if err != nil {
		s.logger.Error("Failed to record gateway outcome, reconciler will settle the transaction",
			zap.String("refund_reference", attempt.RefundReference),
			zap.String("transaction_id", attempt.Transaction.TransactionID),
			zap.Bool("gateway_succeeded", outcome.Succeeded()),
			zap.Error(err))
		return nil, err
	}
	s.afterCommit(ctx, r)
	return r, nil
}

// applyTransactionStatus moves a processing refund along with its
// transaction. While the gateway has not processed the refund it stays in
// processing and neither the payment nor the source count it.
func (s *RefundService) applyTransactionStatus(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, src refund.SourceTransaction, txn *refund.RefundTransaction, now time.Time) error {
	switch txn.Status {
	case refund.TransactionStatusCompleted:
		if err := r.CompleteWithMoney(now); err != nil {
			return err
		}
		return s.recordSourceTotals(ctx, repos, r, src, now)
	case refund.TransactionStatusFailed:
		return r.Fail(txn.FailureReason, now)
	default:
		return nil
	}
}

// recordSourceTotals writes the completed sum back onto the source. r is
// completed but not yet saved, so its amount is added to the stored sum.
func (s *RefundService) recordSourceTotals(ctx context.Context, repos TransactionalRepositories, r *refund.Refund, src refund.SourceTransaction, now time.Time) error {
	completed, err := repos.RefundRepo().SumBySource(ctx, r.TenantID, src.SourceType(), src.SourceID(), completedStatuses, &r.ID)
	if err != nil {
		return err
	}
	src.RecordRefundTotals(completed.Add(r.Amount), now)
	return repos.SourceRepo().SaveRefundTotals(ctx, r.TenantID, src)
}

func (s *RefundService) loadForUpdate(ctx context.Context, repos TransactionalRepositories, tenantID, id uuid.UUID) (*refund.Refund, error) {
	r, err := repos.RefundRepo().FindByIDForUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, mapNotFound(err, "Refund")
	}
	return r, nil
}

// GetRefund returns a refund with its settlement instrument
func (s *RefundService) GetRefund(ctx context.Context, tenantID, id uuid.UUID) (*RefundResponse, error) {
	var (
		r    *refund.Refund
		note *refund.CreditNote
		txn  *refund.RefundTransaction
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = repos.RefundRepo().FindByIDForTenant(ctx, tenantID, id)
		if err != nil {
			return mapNotFound(err, "Refund")
		}
		if r.Method.IsCreditNote() {
			note, err = repos.CreditNoteRepo().FindByRefundID(ctx, tenantID, id)
		} else {
			txn, err = repos.TransactionRepo().FindByRefundID(ctx, tenantID, id)
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := ToRefundResponse(r)
	if note != nil {
		cn := ToCreditNoteResponse(note, s.clock.Now())
		out.CreditNote = &cn
	}
	if txn != nil {
		t := ToRefundTransactionResponse(txn)
		out.Transaction = &t
	}
	return &out, nil
}

// ListRefunds returns a page of refunds
func (s *RefundService) ListRefunds(ctx context.Context, tenantID uuid.UUID, filter refund.RefundFilter) (*RefundListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = shared.DefaultFilter().PageSize
	}

	var (
		refunds []refund.Refund
		total   int64
	)
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		refunds, total, err = repos.RefundRepo().FindAllForTenant(ctx, tenantID, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]RefundResponse, len(refunds))
	for i := range refunds {
		items[i] = ToRefundResponse(&refunds[i])
	}
	return &RefundListResponse{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// RecordItemQC stores a QC verdict on one refund line
func (s *RefundService) RecordItemQC(ctx context.Context, tenantID, refundID, itemID uuid.UUID, status refund.QCStatus, notes string) (*RefundResponse, error) {
	r, err := s.transition(ctx, tenantID, refundID, func(r *refund.Refund, now time.Time) error {
		_, err := r.RecordItemQC(itemID, status, notes, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := ToRefundResponse(r)
	return &out, nil
}

// GetStatistics returns the tenant's refund summary. Results are cached
// briefly and dropped on every write.
func (s *RefundService) GetStatistics(ctx context.Context, tenantID uuid.UUID) (*refund.Statistics, error) {
	if stats, ok := s.cache.Get(tenantID); ok {
		return stats, nil
	}
	var stats *refund.Statistics
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		stats, err = repos.RefundRepo().Statistics(ctx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(tenantID, stats)
	return stats, nil
}

// afterCommit publishes the refund's pending events and drops cached statistics
func (s *RefundService) afterCommit(ctx context.Context, r *refund.Refund) {
	s.cache.Invalidate(r.TenantID)

	events := r.GetDomainEvents()
	r.ClearDomainEvents()
	for _, event := range events {
		s.recordMetric(ctx, r, event.EventType())
	}
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish refund events",
			zap.String("reference", r.Reference),
			zap.Int("events", len(events)),
			zap.Error(err))
	}
}

func (s *RefundService) recordMetric(ctx context.Context, r *refund.Refund, eventType string) {
	switch eventType {
	case refund.EventTypeRefundRequested:
		s.metrics.RefundRequested(ctx, r.Method)
	case refund.EventTypeRefundCompletedCreditNote, refund.EventTypeRefundCompletedMoney:
		s.metrics.RefundCompleted(ctx, r.Method, r.Amount)
	case refund.EventTypeRefundFailed:
		s.metrics.RefundFailed(ctx, r.Method)
	}
}

// ReconcileOutcome applies a late gateway answer, or the lack of one, to a
// transaction left in processing and moves its refund along. Used by the
// Reconciler.
func (s *RefundService) ReconcileOutcome(ctx context.Context, tenantID, refundID uuid.UUID, result *refund.GatewayRefundResult) error {
	now := s.clock.Now()
	var r *refund.Refund
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		r, err = s.loadForUpdate(ctx, repos, tenantID, refundID)
		if err != nil {
			return err
		}
		txn, err := repos.TransactionRepo().FindByRefundIDForUpdate(ctx, tenantID, refundID)
		if err != nil {
			return mapNotFound(err, "Refund transaction")
		}
		if !txn.IsInFlight() {
			return nil
		}
		if result != nil && result.Status == refund.GatewayRefundStatusPending {
			return nil
		}

		src, err := s.resolver.Resolve(ctx, repos, tenantID, r.Source(), true)
		if err != nil {
			return err
		}
		if result == nil {
			txn.RecordFailure(refund.FailureOutcomeUnknown, now)
			err = repos.TransactionRepo().Save(ctx, txn)
		} else {
			err = s.tracker.Settle(ctx, repos, txn, result, now)
		}
		if err != nil {
			return err
		}

		if r.Status != refund.StatusProcessing {
			s.logger.Warn("Settled a transaction whose refund is not processing",
				zap.String("refund_reference", r.Reference),
				zap.String("transaction_id", txn.TransactionID),
				zap.String("refund_status", r.Status.String()),
				zap.String("transaction_status", string(txn.Status)))
			return nil
		}
		if err := s.applyTransactionStatus(ctx, repos, r, src, txn, now); err != nil {
			return err
		}
		return repos.RefundRepo().SaveWithLock(ctx, r)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, r)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
