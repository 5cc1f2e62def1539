// Package testutil builds throwaway sqlite databases and fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/database"
	"retailledger/internal/model"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var accountSeq int64 = 1000000000

// Logger discards output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewDB opens a migrated sqlite database in a temp dir.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")},
	}
	db, err := database.Open(cfg, Logger())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// AccountOption tweaks a fixture account before insert.
type AccountOption func(*model.Account)

func WithStatus(status string) AccountOption {
	return func(a *model.Account) { a.Status = status }
}

func WithType(accountType string) AccountOption {
	return func(a *model.Account) { a.AccountType = accountType }
}

// CreateAccount inserts an active checking account.
func CreateAccount(t testing.TB, db *gorm.DB, owner string, balance int64, opts ...AccountOption) *model.Account {
	t.Helper()
	account := &model.Account{
		AccountNumber: fmt.Sprintf("%d", atomic.AddInt64(&accountSeq, 1)),
		OwnerID:       owner,
		AccountType:   model.AccountTypeChecking,
		Balance:       decimal.NewFromInt(balance),
		Currency:      "USD",
		Status:        model.AccountStatusActive,
	}
	for _, opt := range opts {
		opt(account)
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

// Balance reloads the balance of an account.
func Balance(t testing.TB, db *gorm.DB, accountID int64) decimal.Decimal {
	t.Helper()
	var account model.Account
	require.NoError(t, db.WithContext(context.Background()).First(&account, accountID).Error)
	return account.Balance
}

func CountEntries(t testing.TB, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).Count(&n).Error)
	return n
}

func Owner() string {
	return gofakeit.UUID()
}

func Memo() string {
	return gofakeit.Sentence(4)
}

// Date is midnight UTC.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
