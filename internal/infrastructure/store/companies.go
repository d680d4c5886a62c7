// Package store holds the durable record stores: per-company compliance
// records and the append-only history log.
package store

import (
	"context"
	"errors"

	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/pkg/wallet"

	"gorm.io/gorm"
)

// Companies is the Company Ledger Record Store, keyed by company name.
type Companies struct {
	DB *gorm.DB
}

// FindByName returns the record for a company name.
func (s *Companies) FindByName(ctx context.Context, name string) (*domain.Company, error) {
	var c domain.Company
	if err := s.DB.WithContext(ctx).Where("name = ?", name).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindByWallet resolves a wallet address to a company record. The address is
// normalized before matching; addresses are stored normalized at registration.
func (s *Companies) FindByWallet(ctx context.Context, addr string) (*domain.Company, error) {
	var c domain.Company
	if err := s.DB.WithContext(ctx).Where("wallet_address = ?", wallet.Normalize(addr)).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create inserts a new company record.
func (s *Companies) Create(ctx context.Context, c *domain.Company) error {
	c.WalletAddress = wallet.Normalize(c.WalletAddress)
	return s.DB.WithContext(ctx).Create(c).Error
}

// UpdateFields applies a partial, last-writer-wins field update to one record.
// Each coordinator step writes a self-consistent field set, so no cross-field
// transaction is needed.
func (s *Companies) UpdateFields(ctx context.Context, name string, fields map[string]interface{}) error {
	res := s.DB.WithContext(ctx).Model(&domain.Company{}).Where("name = ?", name).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrCompanyNotFound
	}
	return nil
}

// ListByNetSurplusDesc returns all companies ordered for the leaderboard.
func (s *Companies) ListByNetSurplusDesc(ctx context.Context) ([]domain.Company, error) {
	var out []domain.Company
	err := s.DB.WithContext(ctx).Order("net_surplus DESC").Find(&out).Error
	return out, err
}
