package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// History action types.
const (
	ActionMint            = "MINT"
	ActionBurn            = "BURN"
	ActionList            = "LIST"
	ActionMarkPaid        = "MARK_PAID"
	ActionRelease         = "RELEASE"
	ActionDeficitPurchase = "DEFICIT_PURCHASE"
)

// History outcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
)

// HistoryEntry is an append-only record of a completed ledger-affecting action.
// Seq gives a monotonic order for entries sharing a timestamp.
type HistoryEntry struct {
	EntryID    uuid.UUID      `gorm:"column:entry_id;type:uuid;primaryKey" json:"entry_id"`
	Seq        int64          `gorm:"column:seq;autoIncrement;uniqueIndex" json:"seq"`
	ActionType string         `gorm:"column:action_type;type:varchar(20);not null" json:"action_type"`
	Actors     datatypes.JSON `gorm:"column:actors;type:json" json:"actors"`
	Amount     int64          `gorm:"column:amount;not null" json:"amount"`
	TxRef      string         `gorm:"column:tx_ref" json:"tx_ref"`
	Outcome    string         `gorm:"column:outcome;type:varchar(20);not null" json:"outcome"`
	CreatedAt  time.Time      `gorm:"column:createdAt" json:"createdAt"`
}

func (HistoryEntry) TableName() string {
	return "HistoryEntries"
}

func (h *HistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if h.EntryID == uuid.Nil {
		h.EntryID = uuid.New()
	}
	return nil
}
