// Package settlement drives the audit and settlement state machine:
// registered -> audited_pending -> {deficit | settled}. The off-chain
// obligation is committed before any burn is attempted, so a company's
// displayed state never regresses to unknown when the ledger misbehaves.
package settlement

import (
	"context"
	"errors"
	"time"

	"carboncred-backend/internal/application/compliance"
	"carboncred-backend/internal/application/extract"
	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/infrastructure/store"
	"carboncred-backend/internal/observability"
	"carboncred-backend/internal/pkg/keylock"
	"carboncred-backend/internal/pkg/wallet"

	"github.com/rs/zerolog/log"
)

// Invalidator drops cached leaderboard state after a ledger-affecting write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Service coordinates audits and settlements. All dependencies are injected;
// there is no process-wide state.
type Service struct {
	Companies *store.Companies
	History   *store.History
	Ledger    ledger.Gateway
	Extractor extract.Extractor
	Archive   *extract.Archiver
	Locks     *keylock.KeyedMutex
	Cache     Invalidator
}

// RegisterResult is returned by RegisterAndMint.
type RegisterResult struct {
	Company   string `json:"company"`
	Wallet    string `json:"wallet"`
	Allowance int64  `json:"allowance"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// AuditResult is returned by SubmitAudit and FinalizeSettlement.
type AuditResult struct {
	Company        string `json:"company"`
	Status         string `json:"status"`
	Consumption    int64  `json:"consumption"`
	RequiredBurn   int64  `json:"required_burn"`
	PenaltyApplied bool   `json:"penalty_applied"`
	PenaltyAmount  int64  `json:"penalty_amount"`
	NetSurplus     int64  `json:"net_surplus"`
	Deficit        int64  `json:"deficit,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
}

// RegisterAndMint extracts the baseline tonnage from the source document,
// mints that allowance to the company wallet, and records the company. On an
// already-registered company it re-mints and sets the allowance to the newly
// extracted value; the wallet address is immutable after first registration.
func (s *Service) RegisterAndMint(ctx context.Context, name, walletAddr, filename string, document []byte) (*RegisterResult, error) {
	s.Locks.Lock(name)
	defer s.Locks.Unlock(name)

	addr := wallet.Normalize(walletAddr)
	existing, err := s.Companies.FindByName(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrCompanyNotFound) {
		return nil, err
	}
	if existing != nil && existing.WalletAddress != addr {
		return nil, &domain.PreconditionError{Reason: "Wallet address is immutable once registered"}
	}

	s.Archive.Save("start", filename, document)
	tons := s.Extractor.Extract(document)

	var txHash string
	if tons > 0 {
		rcpt, err := s.Ledger.Mint(ctx, addr, tons)
		observability.ObserveLedgerCall("mint", outcomeOf(err))
		if err != nil {
			return nil, err
		}
		txHash = rcpt.TxHash
	}

	if existing == nil {
		c := &domain.Company{
			Name:          name,
			WalletAddress: addr,
			Allowance:     tons,
			NetSurplus:    tons,
			Status:        domain.StatusRegistered,
			RegisteredAt:  time.Now().UTC(),
		}
		if err := s.Companies.Create(ctx, c); err != nil {
			return nil, err
		}
	} else {
		// Net surplus tracks the new allowance against any obligation already
		// on record, so the leaderboard never reads a stale figure.
		if err := s.Companies.UpdateFields(ctx, name, map[string]interface{}{
			"allowance":   tons,
			"net_surplus": tons - derefInt64(existing.RequiredBurn),
		}); err != nil {
			return nil, err
		}
	}

	if tons > 0 {
		if err := s.History.Append(ctx, domain.ActionMint, map[string]string{"company": name, "wallet": addr}, tons, txHash, domain.OutcomeConfirmed); err != nil {
			log.Warn().Err(err).Str("company", name).Msg("history append failed after mint")
		}
	}
	s.invalidate(ctx)

	log.Info().Str("company", name).Int64("allowance", tons).Str("tx", txHash).Msg("company registered and minted")
	return &RegisterResult{Company: name, Wallet: addr, Allowance: tons, TxHash: txHash}, nil
}

// SubmitAudit extracts the measured consumption, computes the obligation, and
// attempts settlement. The obligation snapshot is persisted before the ledger
// is consulted.
func (s *Service) SubmitAudit(ctx context.Context, name, filename string, document []byte) (*AuditResult, error) {
	s.Locks.Lock(name)
	defer s.Locks.Unlock(name)

	c, err := s.Companies.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}

	s.Archive.Save("end", filename, document)
	consumption := s.Extractor.Extract(document)
	ob := compliance.ComputeObligation(c.Allowance, consumption)

	now := time.Now().UTC()
	if err := s.Companies.UpdateFields(ctx, name, map[string]interface{}{
		"consumption":   consumption,
		"required_burn": ob.RequiredBurn,
		"net_surplus":   ob.NetSurplus,
		"status":        domain.StatusAuditedPending,
		"last_audit_at": now,
	}); err != nil {
		return nil, err
	}

	result := &AuditResult{
		Company:        name,
		Consumption:    consumption,
		RequiredBurn:   ob.RequiredBurn,
		PenaltyApplied: ob.PenaltyApplied,
		PenaltyAmount:  ob.PenaltyAmount,
		NetSurplus:     ob.NetSurplus,
	}
	return s.settle(ctx, c, result)
}

// FinalizeSettlement retries the settlement of a previously audited company.
// Idempotent: an already settled company returns immediately without touching
// the ledger, and a still-deficient one only refreshes its deficit snapshot.
func (s *Service) FinalizeSettlement(ctx context.Context, name string) (*AuditResult, error) {
	s.Locks.Lock(name)
	defer s.Locks.Unlock(name)

	c, err := s.Companies.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.StatusSettled {
		return &AuditResult{
			Company:      name,
			Status:       domain.StatusSettled,
			Consumption:  c.Consumption,
			RequiredBurn: derefInt64(c.RequiredBurn),
			NetSurplus:   c.NetSurplus,
			TxHash:       derefStr(c.LastSettlementTx),
		}, nil
	}
	if c.RequiredBurn == nil {
		return nil, &domain.PreconditionError{Reason: "No audit on record; submit an audit first"}
	}

	result := &AuditResult{
		Company:      name,
		Consumption:  c.Consumption,
		RequiredBurn: *c.RequiredBurn,
		NetSurplus:   c.NetSurplus,
	}
	return s.settle(ctx, c, result)
}

// CompanyStatus is the dashboard view of one company: the stored record plus
// the live on-chain balance and a re-derived shortfall. The stored deficit is
// a snapshot; this is where callers get the current truth.
type CompanyStatus struct {
	Company        *domain.Company `json:"company"`
	DisplayAddress string          `json:"display_address"`
	CurrentBalance int64           `json:"current_balance"`
	Shortfall      int64           `json:"shortfall"`
	Grade          string          `json:"grade"`
}

// Status returns the company record with its live balance and shortfall.
func (s *Service) Status(ctx context.Context, name string) (*CompanyStatus, error) {
	c, err := s.Companies.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	balance, err := s.Ledger.BalanceOf(ctx, c.WalletAddress)
	observability.ObserveLedgerCall("balanceOf", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	var shortfall int64
	if c.Status != domain.StatusSettled && c.RequiredBurn != nil && *c.RequiredBurn > balance {
		shortfall = *c.RequiredBurn - balance
	}
	return &CompanyStatus{
		Company:        c,
		DisplayAddress: wallet.Checksum(c.WalletAddress),
		CurrentBalance: balance,
		Shortfall:      shortfall,
		Grade:          domain.Grade(c.NetSurplus),
	}, nil
}

// settle reads the on-chain balance and either takes a deficit snapshot or
// burns the obligation. The record is mutated only once the ledger outcome is
// known; the deficit snapshot is the one inherently local write.
func (s *Service) settle(ctx context.Context, c *domain.Company, result *AuditResult) (*AuditResult, error) {
	required := result.RequiredBurn

	balance, err := s.Ledger.BalanceOf(ctx, c.WalletAddress)
	observability.ObserveLedgerCall("balanceOf", outcomeOf(err))
	if err != nil {
		observability.Settlements.WithLabelValues("transient_error").Inc()
		return nil, err
	}

	if balance < required {
		return s.snapshotDeficit(ctx, c, result, required-balance)
	}

	rcpt, err := s.Ledger.Burn(ctx, c.WalletAddress, required)
	observability.ObserveLedgerCall("burn", outcomeOf(err))
	if err != nil {
		// A burn refused for balance after a sufficient-balance read means the
		// chain moved under us; take a fresh snapshot instead of failing.
		if ledger.CodeOf(err) == ledger.CodeInsufficientBalance {
			if fresh, balErr := s.Ledger.BalanceOf(ctx, c.WalletAddress); balErr == nil && fresh < required {
				return s.snapshotDeficit(ctx, c, result, required-fresh)
			}
		}
		observability.Settlements.WithLabelValues("transient_error").Inc()
		log.Warn().Err(err).Str("company", c.Name).Msg("burn failed after balance check; awaiting retry")
		return nil, err
	}

	if err := s.Companies.UpdateFields(ctx, c.Name, map[string]interface{}{
		"status":             domain.StatusSettled,
		"deficit":            int64(0),
		"last_settlement_tx": rcpt.TxHash,
	}); err != nil {
		return nil, err
	}
	if err := s.History.Append(ctx, domain.ActionBurn, map[string]string{"company": c.Name, "wallet": c.WalletAddress}, required, rcpt.TxHash, domain.OutcomeConfirmed); err != nil {
		log.Warn().Err(err).Str("company", c.Name).Msg("history append failed after burn")
	}
	s.invalidate(ctx)
	observability.Settlements.WithLabelValues("settled").Inc()

	log.Info().Str("company", c.Name).Int64("burned", required).Str("tx", rcpt.TxHash).Msg("settlement complete")
	result.Status = domain.StatusSettled
	result.Deficit = 0
	result.TxHash = rcpt.TxHash
	return result, nil
}

func (s *Service) snapshotDeficit(ctx context.Context, c *domain.Company, result *AuditResult, shortfall int64) (*AuditResult, error) {
	if err := s.Companies.UpdateFields(ctx, c.Name, map[string]interface{}{
		"status":  domain.StatusDeficit,
		"deficit": shortfall,
	}); err != nil {
		return nil, err
	}
	observability.Settlements.WithLabelValues("deficit").Inc()
	log.Info().Str("company", c.Name).Int64("shortfall", shortfall).Msg("settlement deferred: on-chain balance below obligation")
	result.Status = domain.StatusDeficit
	result.Deficit = shortfall
	return result, nil
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

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
