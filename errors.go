package retainer

import (
	"errors"
	"fmt"

	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/meter"
	"github.com/xraph/retainer/timer"
)

// Sentinel errors for common failure scenarios.
var (
	// Contract errors
	ErrContractNotFound = errors.New("retainer: contract not found")
	ErrContractExists   = errors.New("retainer: contract already exists")
	ErrInvalidContract  = errors.New("retainer: invalid contract")
	ErrContractDisabled = invoice.ErrContractDisabled
	ErrConcurrentUpdate = errors.New("retainer: contract was modified concurrently")

	// Metering errors
	ErrInvalidQuantity = meter.ErrInvalidQuantity
	ErrPeriodClosed    = meter.ErrPeriodClosed
	ErrNoUsageRecord   = meter.ErrNoRecord
	ErrDuplicateBatch  = errors.New("retainer: duplicate document batch")

	// Timer errors
	ErrNoActiveSession = timer.ErrNoActiveSession

	// Invoice errors
	ErrNoUsageForPeriod = invoice.ErrNoUsageForPeriod

	// Store errors
	ErrStoreClosed     = errors.New("retainer: store is closed")
	ErrMigrationFailed = errors.New("retainer: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("retainer: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidContract.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidContract
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "retainer: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("retainer: %d errors occurred: %s", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrNoUsageRecord)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}
