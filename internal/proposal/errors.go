package proposal

import (
	"errors"
	"fmt"
)

// ExhaustedError indicates rejection sampling ran out of attempts, including
// the direct-prior fallback rounds. The sampling loop treats the first
// occurrence per iteration as recoverable (it retries once with a larger
// attempt budget) and the second as fatal.
type ExhaustedError struct {
	// Threshold is the likelihood constraint that could not be satisfied.
	Threshold float64

	// Attempts is the total number of candidates evaluated.
	Attempts int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("proposal exhausted: no point above logL=%g after %d attempts", e.Threshold, e.Attempts)
}

// IsExhausted reports whether err is a proposal-exhausted error.
// Uses errors.As to handle wrapped errors.
func IsExhausted(err error) bool {
	var pe *ExhaustedError
	return errors.As(err, &pe)
}
