package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StandingOrderStatusActive    = "active"
	StandingOrderStatusPaused    = "paused"
	StandingOrderStatusCancelled = "cancelled"
	StandingOrderStatusCompleted = "completed"
)

const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

const (
	RunStatusExecuted = "executed"
	RunStatusFailed   = "failed"
)

// StandingOrderTransitions are the owner-driven status changes. Completion is
// only ever set by the scheduler.
var StandingOrderTransitions = map[string][]string{
	StandingOrderStatusActive: {StandingOrderStatusPaused, StandingOrderStatusCancelled},
	StandingOrderStatusPaused: {StandingOrderStatusActive, StandingOrderStatusCancelled},
}

func CanTransitionStandingOrder(from, to string) bool {
	return contains(StandingOrderTransitions[from], to)
}

// StandingOrder is a recurring transfer. The destination is either bound to an
// account id at creation or kept as an account number that is resolved on
// every run.
type StandingOrder struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID                  string          `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	SourceAccountID          int64           `gorm:"index;not null" json:"source_account_id"`
	DestinationAccountID     *int64          `json:"destination_account_id,omitempty"`
	DestinationAccountNumber string          `gorm:"type:varchar(20)" json:"destination_account_number,omitempty"`
	DestinationName          string          `gorm:"type:varchar(128)" json:"destination_name,omitempty"`
	Amount                   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Frequency                string          `gorm:"type:varchar(16);not null" json:"frequency"`
	Description              string          `gorm:"type:varchar(255)" json:"description,omitempty"`
	StartDate                time.Time       `gorm:"type:date;not null" json:"start_date"`
	EndDate                  *time.Time      `gorm:"type:date" json:"end_date,omitempty"`
	NextExecutionDate        time.Time       `gorm:"type:date;not null;index:idx_standing_orders_due,priority:2" json:"next_execution_date"`
	Status                   string          `gorm:"type:varchar(16);not null;index:idx_standing_orders_due,priority:1" json:"status"`
	LastRunDate              *time.Time      `gorm:"type:date" json:"last_run_date,omitempty"`
	LastRunAt                *time.Time      `json:"last_run_at,omitempty"`
	LastRunStatus            string          `gorm:"type:varchar(16)" json:"last_run_status,omitempty"`
	LastFailureReason        string          `gorm:"type:varchar(64)" json:"last_failure_reason,omitempty"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StandingOrder) TableName() string {
	return "standing_orders"
}

func (o *StandingOrder) IsTerminal() bool {
	return o.Status == StandingOrderStatusCancelled || o.Status == StandingOrderStatusCompleted
}

// IsDue reports whether the order belongs to the due-set for asOf.
func (o *StandingOrder) IsDue(asOf time.Time) bool {
	return o.Status == StandingOrderStatusActive && !DateOf(o.NextExecutionDate).After(DateOf(asOf))
}

// RanOn reports whether a run for asOf already advanced this order. A backlog
// is worked off one period per run date.
func (o *StandingOrder) RanOn(asOf time.Time) bool {
	return o.LastRunDate != nil && DateOf(*o.LastRunDate).Equal(DateOf(asOf))
}

// Advance returns the execution date after the current one and the status the
// order should carry once it is persisted.
func (o *StandingOrder) Advance() (time.Time, string, error) {
	next, err := NextExecutionDate(o.NextExecutionDate, o.Frequency, o.StartDate.Day())
	if err != nil {
		return time.Time{}, "", err
	}
	status := StandingOrderStatusActive
	if o.EndDate != nil && next.After(DateOf(*o.EndDate)) {
		status = StandingOrderStatusCompleted
	}
	return next, status, nil
}

func IsValidFrequency(f string) bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextExecutionDate adds one period to current. Monthly periods land on
// anchorDay, clamped to the length of the target month, so 01-31 is followed
// by 02-29 and then 03-31.
func NextExecutionDate(current time.Time, frequency string, anchorDay int) (time.Time, error) {
	current = DateOf(current)
	switch frequency {
	case FrequencyDaily:
		return current.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		if anchorDay < 1 {
			anchorDay = current.Day()
		}
		firstOfNext := time.Date(current.Year(), current.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		day := anchorDay
		if last := daysIn(firstOfNext); day > last {
			day = last
		}
		return firstOfNext.AddDate(0, 0, day-1), nil
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", frequency)
	}
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
