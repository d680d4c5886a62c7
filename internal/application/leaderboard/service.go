// Package leaderboard ranks companies by net surplus. The ranking reads the
// same persisted obligation the settlement flow writes, so the displayed grade
// cannot drift from the actual obligation. Results are cached in Redis for a
// short TTL and invalidated on every ledger-affecting write.
package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheKey = "leaderboard:v1"
const cacheTTL = 30 * time.Second

// Entry is one leaderboard row.
type Entry struct {
	Company    string `json:"company"`
	Allowance  int64  `json:"allowance"`
	Used       int64  `json:"used"`
	NetSurplus int64  `json:"net_surplus"`
	Status     string `json:"status"`
	Grade      string `json:"grade"`
}

// Service computes and caches the leaderboard.
type Service struct {
	Companies *store.Companies
	Rdb       *redis.Client
}

// Get returns companies ordered by net surplus descending.
func (s *Service) Get(ctx context.Context) ([]Entry, error) {
	if cached := s.fromCache(ctx); cached != nil {
		return cached, nil
	}

	companies, err := s.Companies.ListByNetSurplusDesc(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(companies))
	for i, c := range companies {
		entries[i] = Entry{
			Company:    c.Name,
			Allowance:  c.Allowance,
			Used:       c.Consumption,
			NetSurplus: c.NetSurplus,
			Status:     c.Status,
			Grade:      domain.Grade(c.NetSurplus),
		}
	}

	s.toCache(ctx, entries)
	return entries, nil
}

// Invalidate drops the cached ranking. Called by the coordinators after
// mint, burn, and escrow release.
func (s *Service) Invalidate(ctx context.Context) {
	if s.Rdb == nil {
		return
	}
	if err := s.Rdb.Del(ctx, cacheKey).Err(); err != nil {
		log.Warn().Err(err).Msg("leaderboard cache invalidation failed")
	}
}

func (s *Service) fromCache(ctx context.Context) []Entry {
	if s.Rdb == nil {
		return nil
	}
	raw, err := s.Rdb.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

func (s *Service) toCache(ctx context.Context, entries []Entry) {
	if s.Rdb == nil {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.Rdb.Set(ctx, cacheKey, raw, cacheTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("leaderboard cache write failed")
	}
}
