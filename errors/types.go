// Package errors defines the error taxonomy shared by the reconciliation and
// distribution engine. Every failure that crosses a component boundary is an
// *EngineError carrying a code, so callers can branch on category instead of
// string matching.
package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeNotFound indicates a campaign or record is absent. Non-fatal.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeRPC indicates a transient provider or network fault.
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeValidation indicates malformed or out-of-range input,
	// rejected before any side effect.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeInsufficientFunds indicates the relayer or contract balance
	// is below the required transfer amount.
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// ErrCodeRaceInvalidated indicates an on-chain value changed between a
	// settings-change request and its execution.
	ErrCodeRaceInvalidated ErrorCode = "RACE_INVALIDATED"

	// ErrCodeDuplicatePaymentRisk indicates a distribution would risk paying
	// the same raised value twice.
	ErrCodeDuplicatePaymentRisk ErrorCode = "DUPLICATE_PAYMENT_RISK"

	// ErrCodeDistributionInProgress indicates a concurrent distribution for
	// the same campaign and type is already pending.
	ErrCodeDistributionInProgress ErrorCode = "DISTRIBUTION_IN_PROGRESS"

	// ErrCodeNothingToDistribute indicates the available amount is zero or
	// negative after accounting for completed distributions.
	ErrCodeNothingToDistribute ErrorCode = "NOTHING_TO_DISTRIBUTE"

	// ErrCodeTimeout indicates a caller-side deadline elapsed.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeDatabase indicates a cache store operation failed.
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeConfig indicates configuration errors.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeInternal indicates internal system errors.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// EngineError is an error tied to a chain and a category.
type EngineError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Chain    string                 `json:"chain,omitempty"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// New creates a new EngineError
func New(code ErrorCode, chain, message string, cause error) *EngineError {
	return &EngineError{
		Code:     code,
		Message:  message,
		Chain:    chain,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Chain != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Chain, e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap returns the underlying cause
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *EngineError) WithSeverity(severity Severity) *EngineError {
	e.Severity = severity
	return e
}

// IsRetryable reports whether the error may be retried. Only read-path
// faults qualify; anything that could move funds is never retryable.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRPC, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal, ErrCodeDuplicatePaymentRisk:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeInsufficientFunds, ErrCodeRaceInvalidated:
		return SeverityHigh
	case ErrCodeRPC, ErrCodeTimeout, ErrCodeDistributionInProgress:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeConfig, ErrCodeNothingToDistribute:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Common error constructors

// NewNotFoundError creates a not-found error
func NewNotFoundError(chain, message string) *EngineError {
	return New(ErrCodeNotFound, chain, message, nil)
}

// NewRPCError creates an RPC error
func NewRPCError(chain, message string, cause error) *EngineError {
	return New(ErrCodeRPC, chain, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(chain, message string) *EngineError {
	return New(ErrCodeValidation, chain, message, nil)
}

// NewInsufficientFundsError creates an insufficient-funds error carrying the
// shortfall so the operator knows how much to top up.
func NewInsufficientFundsError(chain, message, shortfallWei string) *EngineError {
	return New(ErrCodeInsufficientFunds, chain, message, nil).
		WithContext("shortfall_wei", shortfallWei)
}

// NewRaceInvalidatedError creates a race-invalidated error
func NewRaceInvalidatedError(chain, message string) *EngineError {
	return New(ErrCodeRaceInvalidated, chain, message, nil)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *EngineError {
	return New(ErrCodeDatabase, "", message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *EngineError {
	return New(ErrCodeConfig, "", message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(chain, message string, cause error) *EngineError {
	return New(ErrCodeInternal, chain, message, cause)
}
