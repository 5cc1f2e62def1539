package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryKindTransfer      = "transfer"
	EntryKindDeposit       = "deposit"
	EntryKindWithdrawal    = "withdrawal"
	EntryKindStandingOrder = "standing_order"
	EntryKindCardPayment   = "card_payment"
)

const (
	EntryStatusPending   = "pending"
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
)

// LedgerEntry is one money movement. Rows are append-only: inserted by the
// transfer executor or the scheduler and never updated afterwards.
//
// Deposits, withdrawals and card payments touch a single account and carry it
// as both source and destination.
type LedgerEntry struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo              string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	RequestID            *string         `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	SourceAccountID      *int64          `gorm:"index" json:"source_account_id"`
	DestinationAccountID *int64          `gorm:"index" json:"destination_account_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Kind                 string          `gorm:"type:varchar(20);index;not null" json:"kind"`
	Memo                 string          `gorm:"type:varchar(255)" json:"memo"`
	Status               string          `gorm:"type:varchar(16);not null" json:"status"`
	FailureReason        string          `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`
	StandingOrderID      *int64          `gorm:"index" json:"standing_order_id,omitempty"`
	CardID               *int64          `gorm:"index" json:"card_id,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// IsSingleAccountKind reports whether kind moves money on one account only.
func IsSingleAccountKind(kind string) bool {
	switch kind {
	case EntryKindDeposit, EntryKindWithdrawal, EntryKindCardPayment:
		return true
	}
	return false
}

func IsValidEntryKind(kind string) bool {
	switch kind {
	case EntryKindTransfer, EntryKindDeposit, EntryKindWithdrawal, EntryKindStandingOrder, EntryKindCardPayment:
		return true
	}
	return false
}

// MoneyScale is the number of decimal places every money column stores.
const MoneyScale = 2

// IsValidAmount reports whether d is positive and fits the money columns
// without rounding. Trailing zeros past the scale are allowed.
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Truncate(MoneyScale).Equal(d)
}
