package service

import "errors"

// Validation errors are returned before any lock is taken. State errors are
// detected under lock and leave every row untouched.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero with at most two decimal places")
	ErrInvalidKind         = errors.New("unknown entry kind")
	ErrSameAccount         = errors.New("source and destination must differ")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDestinationNotFound = errors.New("destination account not found")
	ErrDestinationInactive = errors.New("destination account is not active")
	ErrInvalidAccountType  = errors.New("account type must be checking or savings")
	ErrOwnerRequired       = errors.New("owner is required")
	ErrRequestConflict     = errors.New("request id already used for a different movement")

	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrStandingOrderNotFound   = errors.New("standing order not found")
	ErrInvalidStatusTransition = errors.New("status transition not allowed")
	ErrRecipientNotFound       = errors.New("recipient account not found")

	ErrCardNotFound          = errors.New("card not found")
	ErrCardInactive          = errors.New("card is not active")
	ErrInvalidSpendingLimit  = errors.New("invalid spending limit")
	ErrCardHolderRequired    = errors.New("card holder name is required")
	ErrTokenInvalid          = errors.New("payment token is invalid")
	ErrTokenExpired          = errors.New("payment token has expired")
	ErrTokenAlreadyUsed      = errors.New("payment token has already been used")
	ErrSpendingLimitExceeded = errors.New("spending limit exceeded")

	ErrForbidden = errors.New("forbidden")
)

var failureReasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrAccountInactive, "AccountInactive"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrDestinationNotFound, "DestinationNotFound"},
	{ErrDestinationInactive, "DestinationInactive"},
	{ErrSameAccount, "SameAccount"},
	{ErrRecipientNotFound, "RecipientNotFound"},
	{ErrInvalidSchedule, "InvalidSchedule"},
}

// FailureReason names err for run summaries and failed ledger entries.
func FailureReason(err error) string {
	for _, r := range failureReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "InternalError"
}
