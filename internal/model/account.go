package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
	AccountStatusClosed = "closed"
)

const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
)

// AccountStatusTransitions lists the status changes an administrator may make.
// Closed is terminal.
var AccountStatusTransitions = map[string][]string{
	AccountStatusActive: {AccountStatusFrozen, AccountStatusClosed},
	AccountStatusFrozen: {AccountStatusActive, AccountStatusClosed},
}

// Account holds a balance. Balance is only ever written by the transfer
// executor, under a row lock, and never drops below zero.
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountNumber string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"account_number"`
	OwnerID       string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	AccountType   string          `gorm:"type:varchar(16);not null" json:"account_type"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Currency      string          `gorm:"type:varchar(3);not null;default:USD" json:"currency"`
	Status        string          `gorm:"type:varchar(16);index;not null" json:"status"`
	Version       int             `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

func CanTransitionAccount(from, to string) bool {
	return contains(AccountStatusTransitions[from], to)
}

func IsValidAccountType(t string) bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
