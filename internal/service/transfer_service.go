package service

import (
	"context"
	"errors"
	"fmt"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/lock"
	"retailledger/internal/model"
	"retailledger/internal/repository"
	"retailledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var defaultMemos = map[string]string{
	model.EntryKindTransfer:      "Transfer",
	model.EntryKindDeposit:       "Deposit",
	model.EntryKindWithdrawal:    "Withdrawal",
	model.EntryKindStandingOrder: "Standing Order Payment",
	model.EntryKindCardPayment:   "Card Payment",
}

// TransferRequest describes one money movement.
//
// Principal is the acting owner of the source account. It is empty for
// system-originated debits (scheduled orders, card redemptions) whose
// ownership was checked when the order or token was created.
type TransferRequest struct {
	RequestID            string
	Principal            string
	SourceAccountID      int64
	DestinationAccountID int64
	DestinationNumber    string
	Amount               decimal.Decimal
	Kind                 string
	Memo                 string
	StandingOrderID      *int64
	CardID               *int64
}

// TransferService is the only writer of account balances.
type TransferService struct {
	db          *gorm.DB
	locker      lock.AccountLocker
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
	topic       string
	log         *logrus.Logger
}

func NewTransferService(db *gorm.DB, locker lock.AccountLocker, cfg *config.Config, log *logrus.Logger) *TransferService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &TransferService{
		db:          db,
		locker:      locker,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		topic:       cfg.Kafka.Topic.LedgerEvents,
		log:         log,
	}
}

func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (*model.LedgerEntry, error) {
	req.Kind = model.EntryKindTransfer
	return s.Execute(ctx, req)
}

func (s *TransferService) Deposit(ctx context.Context, req *TransferRequest) (*model.LedgerEntry, error) {
	req.Kind = model.EntryKindDeposit
	return s.Execute(ctx, req)
}

func (s *TransferService) Withdraw(ctx context.Context, req *TransferRequest) (*model.LedgerEntry, error) {
	req.Kind = model.EntryKindWithdrawal
	return s.Execute(ctx, req)
}

// Execute validates req, locks every touched account and applies the movement
// in one transaction.
func (s *TransferService) Execute(ctx context.Context, req *TransferRequest) (*model.LedgerEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.RequestID != "" {
		existing, err := s.ledgerRepo.GetByRequestID(ctx, nil, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("query request id: %w", err)
		}
		if existing != nil {
			if err := s.matchRequest(ctx, nil, existing, req); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	// A number that does not resolve is reported only after the source
	// checks, so the error order matches a transfer by id.
	destMissing := false
	if !model.IsSingleAccountKind(req.Kind) && req.DestinationAccountID == 0 {
		dest, err := s.accountRepo.GetByNumber(ctx, nil, req.DestinationNumber)
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
			destMissing = true
		case err != nil:
			return nil, fmt.Errorf("resolve destination: %w", err)
		default:
			req.DestinationAccountID = dest.ID
		}
	}
	if !model.IsSingleAccountKind(req.Kind) && req.DestinationAccountID == req.SourceAccountID {
		return nil, ErrSameAccount
	}

	var entry *model.LedgerEntry
	err := s.RunLocked(ctx, s.lockSet(req), func(tx *gorm.DB) error {
		if req.RequestID != "" {
			existing, err := s.ledgerRepo.GetByRequestID(ctx, tx, req.RequestID)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := s.matchRequest(ctx, tx, existing, req); err != nil {
					return err
				}
				entry = existing
				return nil
			}
		}
		var err error
		entry, err = s.apply(ctx, tx, req, destMissing)
		return err
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"kind":        req.Kind,
			"source":      req.SourceAccountID,
			"destination": req.DestinationAccountID,
			"amount":      req.Amount.String(),
		}).WithError(err).Info("transfer rejected")
		return nil, err
	}
	return entry, nil
}

// ExecuteTx applies req inside a transaction the caller opened with RunLocked
// over the same accounts. The destination must already be resolved to an id.
func (s *TransferService) ExecuteTx(ctx context.Context, tx *gorm.DB, req *TransferRequest) (*model.LedgerEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !model.IsSingleAccountKind(req.Kind) && req.DestinationAccountID == req.SourceAccountID {
		return nil, ErrSameAccount
	}
	return s.apply(ctx, tx, req, false)
}

// RunLocked holds the distributed lock on every account in accountIDs, then
// runs fn in a database transaction.
func (s *TransferService) RunLocked(ctx context.Context, accountIDs []int64, fn func(tx *gorm.DB) error) error {
	release, err := s.locker.LockAccounts(ctx, accountIDs)
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(fn)
}

// RecordFailure appends a failed entry without moving money.
func (s *TransferService) RecordFailure(ctx context.Context, tx *gorm.DB, req *TransferRequest, cause error) (*model.LedgerEntry, error) {
	entry := s.newEntry(req, model.EntryStatusFailed)
	entry.FailureReason = FailureReason(cause)
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert failed entry: %w", err)
	}
	if err := enqueue(ctx, tx, s.outboxRepo, s.topic, entry.EntryNo, newLedgerEvent(entry)); err != nil {
		return nil, err
	}
	return entry, nil
}

// matchRequest checks that a stored entry carrying req's request id describes
// the same movement by the same owner. Anything else is a conflict.
func (s *TransferService) matchRequest(ctx context.Context, tx *gorm.DB, existing *model.LedgerEntry, req *TransferRequest) error {
	if existing.SourceAccountID == nil || *existing.SourceAccountID != req.SourceAccountID ||
		existing.Kind != req.Kind || !existing.Amount.Equal(req.Amount) {
		return ErrRequestConflict
	}
	if req.DestinationAccountID != 0 &&
		(existing.DestinationAccountID == nil || *existing.DestinationAccountID != req.DestinationAccountID) {
		return ErrRequestConflict
	}
	if req.Principal == "" {
		return nil
	}
	source, err := s.accountRepo.GetByID(ctx, tx, req.SourceAccountID)
	if errors.Is(err, repository.ErrAccountNotFound) || (err == nil && source.OwnerID != req.Principal) {
		return ErrRequestConflict
	}
	return err
}

func (s *TransferService) lockSet(req *TransferRequest) []int64 {
	ids := []int64{req.SourceAccountID}
	if !model.IsSingleAccountKind(req.Kind) && req.DestinationAccountID != 0 {
		ids = append(ids, req.DestinationAccountID)
	}
	return ids
}

func validateRequest(req *TransferRequest) error {
	if !model.IsValidAmount(req.Amount) {
		return ErrInvalidAmount
	}
	if !model.IsValidEntryKind(req.Kind) {
		return ErrInvalidKind
	}
	if model.IsSingleAccountKind(req.Kind) {
		req.DestinationAccountID = req.SourceAccountID
	} else if req.DestinationAccountID == 0 && req.DestinationNumber == "" {
		return ErrDestinationNotFound
	}
	return nil
}

func (s *TransferService) apply(ctx context.Context, tx *gorm.DB, req *TransferRequest, destMissing bool) (*model.LedgerEntry, error) {
	ids := []int64{req.SourceAccountID}
	twoSided := !model.IsSingleAccountKind(req.Kind)
	if twoSided && !destMissing {
		ids = append(ids, req.DestinationAccountID)
	}
	accounts, err := s.lockRows(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	source, ok := accounts[req.SourceAccountID]
	if !ok || (req.Principal != "" && source.OwnerID != req.Principal) {
		return nil, ErrAccountNotFound
	}
	if !source.IsActive() {
		return nil, ErrAccountInactive
	}
	if req.Kind != model.EntryKindDeposit && source.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	switch req.Kind {
	case model.EntryKindDeposit:
		err = s.accountRepo.UpdateBalance(ctx, tx, source.ID, source.Balance.Add(req.Amount), source.Version)
	case model.EntryKindWithdrawal, model.EntryKindCardPayment:
		err = s.accountRepo.UpdateBalance(ctx, tx, source.ID, source.Balance.Sub(req.Amount), source.Version)
	default:
		dest, found := accounts[req.DestinationAccountID]
		if destMissing || !found {
			return nil, ErrDestinationNotFound
		}
		if !dest.IsActive() {
			return nil, ErrDestinationInactive
		}
		err = s.accountRepo.UpdateBalance(ctx, tx, source.ID, source.Balance.Sub(req.Amount), source.Version)
		if err == nil {
			err = s.accountRepo.UpdateBalance(ctx, tx, dest.ID, dest.Balance.Add(req.Amount), dest.Version)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	entry := s.newEntry(req, model.EntryStatusCompleted)
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := enqueue(ctx, tx, s.outboxRepo, s.topic, entry.EntryNo, newLedgerEvent(entry)); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"entry_no":    entry.EntryNo,
		"kind":        entry.Kind,
		"source":      req.SourceAccountID,
		"destination": req.DestinationAccountID,
		"amount":      req.Amount.String(),
	}).Info("ledger entry committed")
	return entry, nil
}

// lockRows takes row locks in ascending id order. Missing accounts are left
// out of the result.
func (s *TransferService) lockRows(ctx context.Context, tx *gorm.DB, ids []int64) (map[int64]*model.Account, error) {
	out := make(map[int64]*model.Account, len(ids))
	for _, id := range lock.SortedUnique(ids) {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, id)
		if errors.Is(err, repository.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock account %d: %w", id, err)
		}
		out[id] = account
	}
	return out, nil
}

func (s *TransferService) newEntry(req *TransferRequest, status string) *model.LedgerEntry {
	memo := req.Memo
	if memo == "" {
		memo = defaultMemos[req.Kind]
	}
	source := req.SourceAccountID
	entry := &model.LedgerEntry{
		EntryNo:         idgen.GenerateEntryNo(),
		SourceAccountID: &source,
		Amount:          req.Amount,
		Kind:            req.Kind,
		Memo:            memo,
		Status:          status,
		StandingOrderID: req.StandingOrderID,
		CardID:          req.CardID,
	}
	if req.DestinationAccountID != 0 {
		dest := req.DestinationAccountID
		entry.DestinationAccountID = &dest
	}
	if req.RequestID != "" {
		requestID := req.RequestID
		entry.RequestID = &requestID
	}
	return entry
}
