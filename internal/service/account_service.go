package service

import (
	"context"
	"errors"
	"fmt"

	"retailledger/internal/model"
	"retailledger/internal/repository"
	"retailledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultEntryLimit      = 50
	defaultAdminEntryLimit = 100
	maxEntryLimit          = 500
)

// AccountService is the account directory: owner-scoped reads plus the
// administrative lifecycle. It never touches balances.
type AccountService struct {
	accountRepo  *repository.AccountRepository
	ledgerRepo   *repository.LedgerRepository
	orderRepo    *repository.StandingOrderRepository
	cardRepo     *repository.CardRepository
	log          *logrus.Logger
	newAccountNo func() (string, error)
}

func NewAccountService(db *gorm.DB, log *logrus.Logger) *AccountService {
	return &AccountService{
		accountRepo:  repository.NewAccountRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		orderRepo:    repository.NewStandingOrderRepository(db),
		cardRepo:     repository.NewCardRepository(db),
		log:          log,
		newAccountNo: idgen.GenerateAccountNumber,
	}
}

// AccountSummary is what a number lookup reveals about someone else's account.
type AccountSummary struct {
	ID            int64  `json:"id"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
}

type Stats struct {
	Accounts             int64           `json:"accounts"`
	LedgerEntries        int64           `json:"ledger_entries"`
	TotalBalance         decimal.Decimal `json:"total_balance"`
	ActiveStandingOrders int64           `json:"active_standing_orders"`
	ActiveCards          int64           `json:"active_cards"`
}

func (s *AccountService) ListAccounts(ctx context.Context, principal string) ([]*model.Account, error) {
	return s.accountRepo.ListByOwner(ctx, principal)
}

func (s *AccountService) GetAccount(ctx context.Context, principal string, id int64) (*model.Account, error) {
	return s.owned(ctx, principal, id)
}

// LookupByNumber resolves an active account by its external number.
func (s *AccountService) LookupByNumber(ctx context.Context, number string) (*AccountSummary, error) {
	account, err := s.accountRepo.GetByNumber(ctx, nil, number)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, ErrAccountNotFound
	}
	return &AccountSummary{ID: account.ID, AccountNumber: account.AccountNumber, AccountType: account.AccountType}, nil
}

func (s *AccountService) ListEntries(ctx context.Context, principal string, accountID int64, limit int) ([]*model.LedgerEntry, error) {
	if _, err := s.owned(ctx, principal, accountID); err != nil {
		return nil, err
	}
	return s.ledgerRepo.ListByAccount(ctx, accountID, clampLimit(limit, defaultEntryLimit))
}

func (s *AccountService) owned(ctx context.Context, principal string, id int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if account.OwnerID != principal {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// CreateAccount opens an empty active account with a fresh 10 digit number.
func (s *AccountService) CreateAccount(ctx context.Context, owner, accountType, currency string) (*model.Account, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if accountType == "" {
		accountType = model.AccountTypeChecking
	}
	if !model.IsValidAccountType(accountType) {
		return nil, ErrInvalidAccountType
	}
	if currency == "" {
		currency = "USD"
	}

	number, err := s.uniqueNumber(ctx)
	if err != nil {
		return nil, err
	}
	account := &model.Account{
		AccountNumber: number,
		OwnerID:       owner,
		AccountType:   accountType,
		Balance:       decimal.Zero,
		Currency:      currency,
		Status:        model.AccountStatusActive,
	}
	if err := s.accountRepo.Create(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"owner":      owner,
		"type":       accountType,
	}).Info("account opened")
	return account, nil
}

func (s *AccountService) uniqueNumber(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		number, err := s.newAccountNo()
		if err != nil {
			return "", err
		}
		exists, err := s.accountRepo.NumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", errors.New("could not allocate a unique account number")
}

func (s *AccountService) FreezeAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.transition(ctx, id, model.AccountStatusFrozen)
}

func (s *AccountService) UnfreezeAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.transition(ctx, id, model.AccountStatusActive)
}

func (s *AccountService) CloseAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.transition(ctx, id, model.AccountStatusClosed)
}

func (s *AccountService) transition(ctx context.Context, id int64, to string) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if !model.CanTransitionAccount(account.Status, to) {
		return nil, ErrInvalidStatusTransition
	}
	err = s.accountRepo.UpdateStatus(ctx, nil, id, account.Status, to)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, ErrInvalidStatusTransition
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"account_id": id, "from": account.Status, "to": to}).Info("account status changed")
	return s.accountRepo.GetByID(ctx, nil, id)
}

func (s *AccountService) ListAll(ctx context.Context) ([]*model.Account, error) {
	return s.accountRepo.ListAll(ctx)
}

func (s *AccountService) ListAllEntries(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	return s.ledgerRepo.ListAll(ctx, clampLimit(limit, defaultAdminEntryLimit))
}

func (s *AccountService) Stats(ctx context.Context) (*Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Accounts, err = s.accountRepo.Count(ctx); err != nil {
		return nil, err
	}
	if st.LedgerEntries, err = s.ledgerRepo.Count(ctx); err != nil {
		return nil, err
	}
	if st.TotalBalance, err = s.accountRepo.TotalBalance(ctx); err != nil {
		return nil, err
	}
	if st.ActiveStandingOrders, err = s.orderRepo.CountActive(ctx); err != nil {
		return nil, err
	}
	if st.ActiveCards, err = s.cardRepo.CountActive(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxEntryLimit {
		return maxEntryLimit
	}
	return limit
}
