package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Company status values. Transitions:
// registered -> audited_pending -> {deficit | settled}; deficit -> settled on retry.
const (
	StatusRegistered     = "registered"
	StatusAuditedPending = "audited_pending"
	StatusDeficit        = "deficit"
	StatusSettled        = "settled"
)

// Compliance grades shown on the leaderboard. Derived from net surplus,
// never stored independently of it.
const (
	GradeGreen = "GREEN"
	GradeRed   = "RED"
)

// Company is the per-company compliance record. WalletAddress is stored
// lowercased and is immutable once set at registration. Deficit is a snapshot
// taken at the last audit or retry; re-derive before acting on it.
type Company struct {
	CompanyID        uuid.UUID  `gorm:"column:company_id;type:uuid;primaryKey" json:"company_id"`
	Name             string     `gorm:"column:name;uniqueIndex;not null" json:"name"`
	WalletAddress    string     `gorm:"column:wallet_address;uniqueIndex;not null" json:"wallet_address"`
	Allowance        int64      `gorm:"column:allowance;not null;default:0" json:"allowance"`
	Consumption      int64      `gorm:"column:consumption;not null;default:0" json:"consumption"`
	RequiredBurn     *int64     `gorm:"column:required_burn" json:"required_burn"`
	Deficit          int64      `gorm:"column:deficit;not null;default:0" json:"deficit"`
	NetSurplus       int64      `gorm:"column:net_surplus;not null;default:0" json:"net_surplus"`
	Status           string     `gorm:"column:status;type:varchar(20);default:'registered'" json:"status"`
	LastSettlementTx *string    `gorm:"column:last_settlement_tx" json:"last_settlement_tx"`
	RegisteredAt     time.Time  `gorm:"column:registered_at" json:"registered_at"`
	LastAuditAt      *time.Time `gorm:"column:last_audit_at" json:"last_audit_at"`
	CreatedAt        time.Time  `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Company) TableName() string {
	return "Companies"
}

// BeforeCreate sets company_id when the DB has no uuid default.
func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.CompanyID == uuid.Nil {
		c.CompanyID = uuid.New()
	}
	return nil
}

// Grade returns the compliance grade for a net surplus value.
func Grade(netSurplus int64) string {
	if netSurplus >= 0 {
		return GradeGreen
	}
	return GradeRed
}
