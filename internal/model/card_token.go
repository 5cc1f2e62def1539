package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentToken is the capability handed to a point of sale. It is never
// stored; only its redemption is.
type PaymentToken struct {
	Token      string    `json:"token"`
	TokenID    string    `json:"-"`
	CardID     int64     `json:"card_id"`
	AccountID  int64     `json:"account_id"`
	CardNumber string    `json:"-"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CardTokenRedemption records a spent token id so it cannot be replayed.
type CardTokenRedemption struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TokenID       string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"token_id"`
	CardID        int64           `gorm:"index;not null" json:"card_id"`
	LedgerEntryID int64           `gorm:"not null" json:"ledger_entry_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Merchant      string          `gorm:"type:varchar(128)" json:"merchant"`
	RedeemedAt    time.Time       `gorm:"autoCreateTime" json:"redeemed_at"`
}

func (CardTokenRedemption) TableName() string {
	return "card_token_redemptions"
}
