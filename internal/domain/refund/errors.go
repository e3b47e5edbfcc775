package refund

import (
	"fmt"

	"github.com/erp/settlement/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Error codes raised by the refund context
const (
	CodeExceedsRefundable   = "EXCEEDS_REFUNDABLE"
	CodeGatewayPrecondition = "GATEWAY_PRECONDITION"
	CodeGatewayCallFailed   = "GATEWAY_CALL_FAILED"
	CodeGatewayUnsupported  = "GATEWAY_UNSUPPORTED"
)

// NewValidationError reports input rejected before any write.
func NewValidationError(message string) *shared.DomainError {
	return shared.NewDomainError(shared.CodeValidation, message)
}

// NewNotFoundError reports a missing refund, source transaction, customer or instrument.
func NewNotFoundError(resource string) *shared.DomainError {
	return shared.NewDomainError(shared.CodeNotFound, resource+" not found")
}

// NewInvalidStateError reports a transition attempted from the wrong state.
func NewInvalidStateError(message string) *shared.DomainError {
	return shared.NewDomainError(shared.CodeInvalidState, message)
}

// NewGatewayPreconditionError reports that a money refund cannot be attempted at all.
func NewGatewayPreconditionError(message string) *shared.DomainError {
	return shared.NewDomainError(CodeGatewayPrecondition, message)
}

// ExceedsRefundableError is returned when a refund would take the source
// transaction over its total. MaxRefundable is what is still available.
type ExceedsRefundableError struct {
	domainErr     *shared.DomainError
	MaxRefundable decimal.Decimal
}

// NewExceedsRefundableError creates an ExceedsRefundableError
func NewExceedsRefundableError(maxRefundable decimal.Decimal) *ExceedsRefundableError {
	if maxRefundable.IsNegative() {
		maxRefundable = decimal.Zero
	}
	maxRefundable = RoundAmount(maxRefundable)
	return &ExceedsRefundableError{
		domainErr: shared.NewDomainError(CodeExceedsRefundable,
			fmt.Sprintf("Refund amount exceeds refundable balance, maximum refundable is %s", maxRefundable.StringFixed(AmountScale))),
		MaxRefundable: maxRefundable,
	}
}

func (e *ExceedsRefundableError) Error() string {
	return e.domainErr.Error()
}

// Unwrap exposes the underlying DomainError to errors.As
func (e *ExceedsRefundableError) Unwrap() error {
	return e.domainErr
}

// GatewayCallError wraps a failure of the external refund call. It is recorded
// on the RefundTransaction and never returned from ProcessRefund.
type GatewayCallError struct {
	domainErr *shared.DomainError
	Gateway   string
	Err       error
}

// NewGatewayCallError creates a GatewayCallError
func NewGatewayCallError(gateway string, err error) *GatewayCallError {
	return &GatewayCallError{
		domainErr: shared.NewDomainError(CodeGatewayCallFailed, fmt.Sprintf("%s refund call failed: %v", gateway, err)),
		Gateway:   gateway,
		Err:       err,
	}
}

func (e *GatewayCallError) Error() string {
	return e.domainErr.Error()
}

// Unwrap returns both the DomainError and the transport error
func (e *GatewayCallError) Unwrap() []error {
	return []error{e.domainErr, e.Err}
}
