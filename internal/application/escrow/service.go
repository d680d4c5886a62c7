// Package escrow drives the three-phase peer-to-peer transfer protocol:
// list -> mark-paid -> release. This service relays each party's intent to the
// ledger and keeps the record store in sync; it never forges authorization and
// never verifies the off-chain payment itself. Marking paid is self-asserted
// by the buyer; that trust sits in the off-chain payment channel by design.
package escrow

import (
	"context"
	"strconv"

	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/infrastructure/store"
	"carboncred-backend/internal/observability"
	"carboncred-backend/internal/pkg/keylock"
	"carboncred-backend/internal/pkg/wallet"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Invalidator drops cached leaderboard state after a ledger-affecting write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Service coordinates marketplace escrow operations.
type Service struct {
	Companies *store.Companies
	History   *store.History
	Ledger    ledger.Gateway
	Locks     *keylock.KeyedMutex
	Cache     Invalidator
}

// ListResult is returned by CreateListing.
type ListResult struct {
	ListingID int64  `json:"listing_id"`
	Seller    string `json:"seller"`
	Amount    int64  `json:"amount"`
	TxHash    string `json:"tx_hash"`
}

// MarkPaidResult is returned by MarkPaid.
type MarkPaidResult struct {
	ListingID int64  `json:"listing_id"`
	IsPaid    bool   `json:"is_paid"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// ReleaseResult is returned by Release.
type ReleaseResult struct {
	ListingID    int64  `json:"listing_id"`
	Active       bool   `json:"active"`
	Amount       int64  `json:"amount"`
	Buyer        string `json:"buyer"`
	NewAllowance int64  `json:"new_allowance"`
	TxHash       string `json:"tx_hash"`
}

func listingKey(id int64) string {
	return "listing:" + strconv.FormatInt(id, 10)
}

// CreateListing places amount tokens from the seller into ledger escrow at the
// given price, with an off-chain payment pointer for the buyer.
func (s *Service) CreateListing(ctx context.Context, sellerCompany string, amount, pricePerUnit int64, paymentRef string) (*ListResult, error) {
	seller, err := s.Companies.FindByName(ctx, sellerCompany)
	if err != nil {
		return nil, err
	}

	id, rcpt, err := s.Ledger.CreateEscrowListing(ctx, seller.WalletAddress, amount, pricePerUnit, paymentRef)
	observability.ObserveLedgerCall("createEscrowListing", outcomeOf(err))
	if err != nil {
		observability.EscrowTransitions.WithLabelValues("list", "failed").Inc()
		if ledger.CodeOf(err) == ledger.CodeInsufficientBalance {
			shortfall := amount
			if bal, balErr := s.Ledger.BalanceOf(ctx, seller.WalletAddress); balErr == nil && amount > bal {
				shortfall = amount - bal
			}
			return nil, &domain.PreconditionError{Reason: "Insufficient credits to list", Shortfall: shortfall}
		}
		return nil, err
	}

	if err := s.History.Append(ctx, domain.ActionList, map[string]string{
		"seller":     sellerCompany,
		"wallet":     seller.WalletAddress,
		"listing_id": strconv.FormatInt(id, 10),
	}, amount, rcpt.TxHash, domain.OutcomeConfirmed); err != nil {
		log.Warn().Err(err).Int64("listing", id).Msg("history append failed after list")
	}
	observability.EscrowTransitions.WithLabelValues("list", "confirmed").Inc()

	log.Info().Str("seller", sellerCompany).Int64("listing", id).Int64("amount", amount).Msg("escrow listing created")
	return &ListResult{ListingID: id, Seller: seller.WalletAddress, Amount: amount, TxHash: rcpt.TxHash}, nil
}

// MarkPaid records the buyer's assertion that the off-chain payment completed.
// Calling it again on an already-paid listing is a no-op.
func (s *Service) MarkPaid(ctx context.Context, listingID int64, buyerCompany string) (*MarkPaidResult, error) {
	s.Locks.Lock(listingKey(listingID))
	defer s.Locks.Unlock(listingKey(listingID))

	buyer, err := s.Companies.FindByName(ctx, buyerCompany)
	if err != nil {
		return nil, err
	}

	l, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, &domain.PreconditionError{Reason: "Listing is no longer active"}
	}
	if l.IsPaid {
		return &MarkPaidResult{ListingID: listingID, IsPaid: true}, nil
	}

	rcpt, err := s.Ledger.MarkPaid(ctx, listingID)
	observability.ObserveLedgerCall("markPaid", outcomeOf(err))
	if err != nil {
		observability.EscrowTransitions.WithLabelValues("mark_paid", "failed").Inc()
		return nil, err
	}

	if err := s.History.Append(ctx, domain.ActionMarkPaid, map[string]string{
		"buyer":      buyerCompany,
		"wallet":     buyer.WalletAddress,
		"listing_id": strconv.FormatInt(listingID, 10),
	}, l.Amount, rcpt.TxHash, domain.OutcomeConfirmed); err != nil {
		log.Warn().Err(err).Int64("listing", listingID).Msg("history append failed after mark-paid")
	}
	observability.EscrowTransitions.WithLabelValues("mark_paid", "confirmed").Inc()

	return &MarkPaidResult{ListingID: listingID, IsPaid: true, TxHash: rcpt.TxHash}, nil
}

// Release moves the escrowed tokens to the buyer. Preconditions (active and
// paid) are checked before the ledger is invoked; a ledger failure here leaves
// the listing active and the operation safely retryable.
func (s *Service) Release(ctx context.Context, listingID int64, buyerWallet string) (*ReleaseResult, error) {
	s.Locks.Lock(listingKey(listingID))
	defer s.Locks.Unlock(listingKey(listingID))

	l, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, &domain.PreconditionError{Reason: "Listing is no longer active"}
	}
	if !l.IsPaid {
		return nil, &domain.PreconditionError{Reason: "Listing has not been marked paid"}
	}

	buyer, err := s.Companies.FindByWallet(ctx, buyerWallet)
	if err != nil {
		return nil, err
	}
	sellerName := l.Seller
	if seller, err := s.Companies.FindByWallet(ctx, l.Seller); err == nil {
		sellerName = seller.Name
	}

	rcpt, err := s.Ledger.ReleaseEscrow(ctx, listingID, wallet.Normalize(buyerWallet))
	observability.ObserveLedgerCall("releaseEscrow", outcomeOf(err))
	if err != nil {
		observability.EscrowTransitions.WithLabelValues("release", "failed").Inc()
		return nil, err
	}

	// Ledger transfer confirmed; fold the purchase into the buyer's record.
	// The increment runs in SQL so overlapping releases to the same buyer
	// (each under a different listing lock) cannot lose an update.
	action := domain.ActionRelease
	if buyer.Status == domain.StatusDeficit {
		action = domain.ActionDeficitPurchase
	}
	fields := map[string]interface{}{
		"allowance":   gorm.Expr("allowance + ?", l.Amount),
		"net_surplus": gorm.Expr("allowance + ? - COALESCE(required_burn, 0)", l.Amount),
	}
	if err := s.Companies.UpdateFields(ctx, buyer.Name, fields); err != nil {
		return nil, err
	}
	buyer, err = s.Companies.FindByName(ctx, buyer.Name)
	if err != nil {
		return nil, err
	}
	newAllowance := buyer.Allowance

	if err := s.History.Append(ctx, action, map[string]string{
		"seller":     sellerName,
		"buyer":      buyer.Name,
		"listing_id": strconv.FormatInt(listingID, 10),
	}, l.Amount, rcpt.TxHash, domain.OutcomeConfirmed); err != nil {
		log.Warn().Err(err).Int64("listing", listingID).Msg("history append failed after release")
	}
	s.invalidate(ctx)
	observability.EscrowTransitions.WithLabelValues("release", "confirmed").Inc()

	log.Info().Int64("listing", listingID).Str("buyer", buyer.Name).Int64("amount", l.Amount).Str("tx", rcpt.TxHash).Msg("escrow released")
	return &ReleaseResult{
		ListingID:    listingID,
		Active:       false,
		Amount:       l.Amount,
		Buyer:        buyer.Name,
		NewAllowance: newAllowance,
		TxHash:       rcpt.TxHash,
	}, nil
}

// GetListing returns the current on-ledger state of a listing.
func (s *Service) GetListing(ctx context.Context, listingID int64) (*ledger.Listing, error) {
	l, err := s.Ledger.GetListing(ctx, listingID)
	if err != nil {
		if ledger.CodeOf(err) == ledger.CodeNotFound {
			return nil, domain.ErrListingNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "confirmed"
	}
	switch ledger.CodeOf(err) {
	case ledger.CodeInsufficientBalance:
		return "insufficient_balance"
	case ledger.CodeUnauthorized:
		return "unauthorized"
	case ledger.CodeTimeout:
		return "timeout"
	case ledger.CodeNotFound:
		return "not_found"
	}
	return "unknown"
}
