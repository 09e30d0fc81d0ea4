/**
 * @description
 * Shared failure taxonomy for the payments-service. Provider adapters
 * translate provider-specific error payloads into these types so the ledger
 * and API layers never branch on provider identity.
 */

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStateTransition signals an attempted out-of-order lifecycle
	// transition (programming or integration defect, or an out-of-order
	// webhook). The transaction is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrPersistenceFailure signals that the store was unavailable after a
	// provider call already succeeded. This is fatal and alertable; it must
	// never be swallowed.
	ErrPersistenceFailure = errors.New("persistence failure after provider call")
)

// ValidationError is malformed input, rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderTransientError is a network error or 5xx from a provider. The call
// is eligible for caller-level retry with the same idempotency key.
type ProviderTransientError struct {
	Provider Provider
	// Ambiguous is true when the provider may already have processed the
	// charge (e.g. a timeout after the request was sent). The ledger leaves
	// the transaction pending in that case instead of guessing an outcome.
	Ambiguous bool
	Err       error
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// ProviderDeclinedError is a business decline from a provider (card or
// account declined). Terminal; surfaced to the end user.
type ProviderDeclinedError struct {
	Provider Provider
	Code     string
	Reason   string
}

func (e *ProviderDeclinedError) Error() string {
	return fmt.Sprintf("provider %s declined (%s): %s", e.Provider, e.Code, e.Reason)
}

// IsProviderTransient reports whether err is (or wraps) a transient provider
// failure, and whether the outcome is ambiguous.
func IsProviderTransient(err error) (transient, ambiguous bool) {
	var te *ProviderTransientError
	if errors.As(err, &te) {
		return true, te.Ambiguous
	}
	return false, false
}

// IsProviderDeclined reports whether err is (or wraps) a provider decline.
func IsProviderDeclined(err error) (*ProviderDeclinedError, bool) {
	var de *ProviderDeclinedError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
