// Package ledger defines the gateway to the external token ledger and its
// typed failure taxonomy. Every mutating call either returns a confirmed
// transaction receipt or fails with a coded error.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Error codes returned by the gateway.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeTimeout             = "TIMEOUT"
	CodeNotFound            = "NOT_FOUND"
	CodeUnknown             = "UNKNOWN"
)

// Error is a typed ledger failure. Coordinators treat InsufficientBalance as a
// precondition failure, Unauthorized as a fatal rejection, and everything else
// as transient and safe to retry.
type Error struct {
	Code    string
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("ledger: %s: %s: %s", e.Op, e.Code, e.Message)
}

// CodeOf extracts the ledger error code from err, or CodeUnknown.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeUnknown
}

// IsTransient reports whether the failure is safe to retry: the ledger did not
// definitively refuse, it just did not definitively confirm either.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeUnknown:
		return true
	}
	return false
}

// Receipt confirms a mutating ledger call.
type Receipt struct {
	TxHash string `json:"tx_hash"`
}

// Listing is the on-ledger escrow listing state. Custody of the listed amount
// is enforced by the ledger, not by this service.
type Listing struct {
	ID           int64  `json:"id"`
	Seller       string `json:"seller"`
	Amount       int64  `json:"amount"`
	PricePerUnit int64  `json:"price_per_unit"`
	PaymentRef   string `json:"payment_ref"`
	IsPaid       bool   `json:"is_paid"`
	Active       bool   `json:"active"`
}

// Gateway is the synchronous interface to the token ledger.
type Gateway interface {
	Mint(ctx context.Context, account string, amount int64) (*Receipt, error)
	Burn(ctx context.Context, account string, amount int64) (*Receipt, error)
	Transfer(ctx context.Context, from, to string, amount int64) (*Receipt, error)
	BalanceOf(ctx context.Context, account string) (int64, error)
	CreateEscrowListing(ctx context.Context, seller string, amount, pricePerUnit int64, paymentRef string) (int64, *Receipt, error)
	MarkPaid(ctx context.Context, listingID int64) (*Receipt, error)
	ReleaseEscrow(ctx context.Context, listingID int64, buyer string) (*Receipt, error)
	GetListing(ctx context.Context, listingID int64) (*Listing, error)
}
