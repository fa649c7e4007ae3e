package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Catalog/merchant errors
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrItemNotFound     = errors.New("item not found")

	// Cart errors
	ErrMerchantMismatch = errors.New("cart holds items from a different merchant")
	ErrLineNotFound     = errors.New("cart line not found")
	ErrEmptyCart        = errors.New("cart is empty")

	// Customization errors
	ErrSelectionBelowMinimum = errors.New("selection count below category minimum")
	ErrSelectionAboveMaximum = errors.New("selection count above category maximum")

	// Checkout errors
	ErrCheckoutNotActive      = errors.New("no checkout in progress")
	ErrCheckoutStepViolation  = errors.New("checkout step transition not allowed")
	ErrMissingOrderDetails    = errors.New("order details incomplete")
	ErrNoSavedAddress         = errors.New("no saved address")
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrPaymentInFlight        = errors.New("payment attempt already in flight")
	ErrWrongChain             = errors.New("wallet connected to wrong network")
	ErrWalletNotConnected     = errors.New("wallet not connected")
	ErrVerificationTimeout    = errors.New("payment verification timed out")

	// Session/conversation errors
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnInFlight    = errors.New("a turn is already being processed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
)

// EngineError provides structured error information with context
// It implements the error interface and supports error wrapping
type EngineError struct {
	Op      string // Operation that failed (e.g., "checkout.Submit")
	Kind    string // Error kind (e.g., "cart", "checkout", "catalog")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *EngineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError
func NewEngineError(op, kind string, err error) *EngineError {
	return &EngineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRequestFailed) ||
		errors.Is(err, ErrCircuitOpen)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMerchantNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsValidation checks if an error is a local input-validation failure.
// Validation failures surface inline and never advance state.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSelectionBelowMinimum) ||
		errors.Is(err, ErrSelectionAboveMaximum) ||
		errors.Is(err, ErrMissingOrderDetails) ||
		errors.Is(err, ErrMerchantMismatch)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
