package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CardStatusActive  = "active"
	CardStatusFrozen  = "frozen"
	CardStatusDeleted = "deleted"
)

// VirtualCard spends from its linked account up to SpendingLimit per period.
// Deleted cards stay in the table.
type VirtualCard struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID        string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	AccountID      int64           `gorm:"index;not null" json:"account_id"`
	CardNumber     string          `gorm:"type:varchar(16);uniqueIndex;not null" json:"card_number"`
	CVV            string          `gorm:"type:varchar(4);not null" json:"-"`
	CardHolderName string          `gorm:"type:varchar(128);not null" json:"card_holder_name"`
	ExpiryDate     time.Time       `gorm:"type:date;not null" json:"expiry_date"`
	SpendingLimit  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"spending_limit"`
	CurrentSpent   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"current_spent"`
	Status         string          `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (VirtualCard) TableName() string {
	return "virtual_cards"
}

func (c *VirtualCard) IsActive() bool {
	return c.Status == CardStatusActive
}

// CanSpend reports whether amount fits under the remaining limit.
func (c *VirtualCard) CanSpend(amount decimal.Decimal) bool {
	return c.CurrentSpent.Add(amount).LessThanOrEqual(c.SpendingLimit)
}

func (c *VirtualCard) Remaining() decimal.Decimal {
	return c.SpendingLimit.Sub(c.CurrentSpent)
}

// MaskedNumber keeps the last four digits.
func (c *VirtualCard) MaskedNumber() string {
	if len(c.CardNumber) < 4 {
		return c.CardNumber
	}
	return "**** **** **** " + c.CardNumber[len(c.CardNumber)-4:]
}
