package live

import (
	"errors"
	"fmt"
)

// StoreError represents a live-point store failure.
//
// Store errors include:
//   - Initialization: the prior could not produce enough finite-likelihood
//     points within the retry budget (fatal, aborts the run)
//   - Empty population: PopWorst called on an empty population (driver bug)
//   - Ordering violation: an inserted point does not exceed the previous
//     worst likelihood (proposal or likelihood bug; never silently fixed)
type StoreError struct {
	// Code identifies the error category.
	Code StoreErrorCode

	// Message is a human-readable description.
	Message string

	// LogL and Threshold carry the offending values for ordering violations.
	LogL      float64
	Threshold float64
}

// StoreErrorCode categorizes live-point store errors.
type StoreErrorCode string

const (
	// ErrCodeInitialization indicates prior sampling could not fill the
	// population with finite-likelihood points.
	ErrCodeInitialization StoreErrorCode = "INITIALIZATION_FAILED"

	// ErrCodeEmptyPopulation indicates PopWorst on an empty population.
	ErrCodeEmptyPopulation StoreErrorCode = "EMPTY_POPULATION"

	// ErrCodeOrderingViolation indicates an insert that breaks the
	// likelihood-ordering invariant.
	ErrCodeOrderingViolation StoreErrorCode = "ORDERING_VIOLATION"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Code == ErrCodeOrderingViolation {
		return fmt.Sprintf("%s: %s (logL=%g, threshold=%g)", e.Code, e.Message, e.LogL, e.Threshold)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInitializationError reports whether err is an initialization failure.
// Uses errors.As to handle wrapped errors.
func IsInitializationError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeInitialization
}

// IsOrderingViolation reports whether err is an ordering violation.
// Uses errors.As to handle wrapped errors.
func IsOrderingViolation(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeOrderingViolation
}

// IsEmptyPopulation reports whether err is an empty-population error.
func IsEmptyPopulation(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeEmptyPopulation
}

// newInitializationError creates a StoreError for a failed initial fill.
func newInitializationError(filled, want, attempts int) *StoreError {
	return &StoreError{
		Code: ErrCodeInitialization,
		Message: fmt.Sprintf("drew %d of %d finite-likelihood points in %d attempts",
			filled, want, attempts),
	}
}

// newOrderingViolation creates a StoreError for a bad insert.
func newOrderingViolation(logL, threshold float64) *StoreError {
	return &StoreError{
		Code:      ErrCodeOrderingViolation,
		Message:   "inserted point does not exceed previous worst likelihood",
		LogL:      logL,
		Threshold: threshold,
	}
}
