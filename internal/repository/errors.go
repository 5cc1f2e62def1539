package repository

import "errors"

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrStandingOrderNotFound = errors.New("standing order not found")
	ErrCardNotFound          = errors.New("card not found")
	ErrEntryNotFound         = errors.New("ledger entry not found")

	// ErrOptimisticLock means the row changed between read and write.
	ErrOptimisticLock = errors.New("row was modified concurrently")
	// ErrStatusConflict means a conditional status update matched no row.
	ErrStatusConflict = errors.New("status changed concurrently")
)
