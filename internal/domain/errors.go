package domain

import (
	"errors"
	"fmt"
)

// Not-found errors are reported to the caller and never retried.
var (
	ErrCompanyNotFound = errors.New("Company not found")
	ErrListingNotFound = errors.New("Listing not found")
)

// PreconditionError rejects a request submitted in the wrong phase or with an
// insufficient on-chain balance. Shortfall carries the numeric gap when one
// applies so the client can decide the next action without re-querying.
type PreconditionError struct {
	Reason    string
	Shortfall int64
}

func (e *PreconditionError) Error() string {
	if e.Shortfall > 0 {
		return fmt.Sprintf("%s (shortfall: %d)", e.Reason, e.Shortfall)
	}
	return e.Reason
}

// AsPrecondition unwraps err into a *PreconditionError if it is one.
func AsPrecondition(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
