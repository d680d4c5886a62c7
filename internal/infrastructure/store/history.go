package store

import (
	"context"
	"encoding/json"

	"carboncred-backend/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// History is the append-only log of completed ledger-affecting actions.
type History struct {
	DB *gorm.DB
}

// Append records one entry. Actors is marshalled to the JSON column.
func (s *History) Append(ctx context.Context, actionType string, actors map[string]string, amount int64, txRef, outcome string) error {
	actorBytes, _ := json.Marshal(actors)
	entry := domain.HistoryEntry{
		ActionType: actionType,
		Actors:     datatypes.JSON(actorBytes),
		Amount:     amount,
		TxRef:      txRef,
		Outcome:    outcome,
	}
	return s.DB.WithContext(ctx).Create(&entry).Error
}

// Recent returns the newest entries, most recent first.
func (s *History) Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.HistoryEntry
	err := s.DB.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&out).Error
	return out, err
}
