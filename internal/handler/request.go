package handler

import (
	"errors"
	"strings"
	"time"

	"retailledger/internal/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func positive(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok || !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	if !model.IsValidAmount(d) {
		return errors.New("must have at most two decimal places")
	}
	return nil
}

func optionalPositive(value interface{}) error {
	d, ok := value.(*decimal.Decimal)
	if !ok || d == nil {
		return nil
	}
	return positive(*d)
}

type TransferRequest struct {
	RequestID                string          `json:"request_id"`
	SourceAccountID          int64           `json:"source_account_id"`
	DestinationAccountID     int64           `json:"destination_account_id"`
	DestinationAccountNumber string          `json:"destination_account_number"`
	Amount                   decimal.Decimal `json:"amount"`
	Memo                     string          `json:"memo"`
}

func (r TransferRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestID, validation.Length(0, 64)),
		validation.Field(&r.SourceAccountID, validation.Required),
		validation.Field(&r.DestinationAccountID, validation.When(r.DestinationAccountNumber == "", validation.Required.Error("destination_account_id or destination_account_number is required"))),
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Memo, validation.Length(0, 255)),
	)
}

// MovementRequest is a deposit or withdrawal on one account.
type MovementRequest struct {
	RequestID string          `json:"request_id"`
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
}

func (r MovementRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestID, validation.Length(0, 64)),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Memo, validation.Length(0, 255)),
	)
}

var frequencies = []interface{}{
	model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly,
}

type CreateStandingOrderRequest struct {
	SourceAccountID          int64           `json:"source_account_id"`
	DestinationAccountID     int64           `json:"destination_account_id"`
	DestinationAccountNumber string          `json:"destination_account_number"`
	DestinationName          string          `json:"destination_name"`
	Amount                   decimal.Decimal `json:"amount"`
	Frequency                string          `json:"frequency"`
	StartDate                string          `json:"start_date"`
	EndDate                  string          `json:"end_date"`
	Description              string          `json:"description"`
}

func (r CreateStandingOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceAccountID, validation.Required),
		validation.Field(&r.DestinationAccountID, validation.When(r.DestinationAccountNumber == "", validation.Required.Error("destination_account_id or destination_account_number is required"))),
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Frequency, validation.Required, validation.In(frequencies...)),
		validation.Field(&r.StartDate, validation.Required, validation.Date(dateLayout)),
		validation.Field(&r.EndDate, validation.Date(dateLayout)),
		validation.Field(&r.Description, validation.Length(0, 255)),
	)
}

type UpdateStandingOrderRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Frequency   *string          `json:"frequency"`
	EndDate     *string          `json:"end_date"`
	Description *string          `json:"description"`
}

func (r UpdateStandingOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.By(optionalPositive)),
		validation.Field(&r.Frequency, validation.NilOrNotEmpty, validation.In(frequencies...)),
		validation.Field(&r.EndDate, validation.NilOrNotEmpty, validation.Date(dateLayout)),
		validation.Field(&r.Description, validation.Length(0, 255)),
	)
}

type CreateCardRequest struct {
	AccountID      int64            `json:"account_id"`
	CardHolderName string           `json:"card_holder_name"`
	SpendingLimit  *decimal.Decimal `json:"spending_limit"`
}

func (r CreateCardRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.CardHolderName, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.SpendingLimit, validation.By(optionalPositive)),
	)
}

type UpdateCardRequest struct {
	SpendingLimit *decimal.Decimal `json:"spending_limit"`
	Status        *string          `json:"status"`
}

func (r UpdateCardRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SpendingLimit, validation.By(optionalPositive)),
		validation.Field(&r.Status, validation.NilOrNotEmpty, validation.In(model.CardStatusActive, model.CardStatusFrozen)),
	)
}

type RedeemRequest struct {
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"`
	Merchant string          `json:"merchant"`
}

func (r RedeemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Amount, validation.By(positive)),
		validation.Field(&r.Merchant, validation.Length(0, 100)),
	)
}

type CreateAccountRequest struct {
	OwnerID     string `json:"owner_id"`
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

func (r CreateAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OwnerID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.AccountType, validation.In(model.AccountTypeChecking, model.AccountTypeSavings)),
		validation.Field(&r.Currency, validation.Length(3, 3)),
	)
}

type RunStandingOrdersRequest struct {
	AsOf string `json:"as_of"`
}

func (r RunStandingOrdersRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AsOf, validation.Date(dateLayout)),
	)
}

// parseDate reads a validated YYYY-MM-DD value as a UTC calendar date.
func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(s))
}
