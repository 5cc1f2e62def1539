package service_test

import (
	"testing"
	"time"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/lock"
	"retailledger/internal/model"
	"retailledger/internal/service"
	"retailledger/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type env struct {
	db        *gorm.DB
	cfg       *config.Config
	clock     *testutil.Clock
	transfers *service.TransferService
	orders    *service.StandingOrderService
	cards     *service.CardService
	accounts  *service.AccountService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				LedgerEvents:      "ledger.entries",
				StandingOrderRuns: "ledger.standing_order_runs",
			},
		},
		Card: config.CardConfig{
			TokenSecret:          "test-token-secret",
			TokenTTL:             5 * time.Minute,
			DefaultSpendingLimit: "10000",
		},
		Scheduler: config.SchedulerConfig{Workers: 4},
		Lock: config.LockConfig{
			TTL:           10 * time.Second,
			RetryInterval: 2 * time.Millisecond,
			MaxRetries:    5000,
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := testConfig()
	log := testutil.Logger()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.NewRedisAccountLocker(rdb, cfg.Lock)

	clock := testutil.NewClock(time.Date(2024, 1, 17, 9, 30, 0, 0, time.UTC))
	transfers := service.NewTransferService(db, locker, cfg, log)
	orders := service.NewStandingOrderService(db, transfers, cfg, log)
	orders.SetClock(clock.Now)
	cards, err := service.NewCardService(db, transfers, cfg, log)
	require.NoError(t, err)
	cards.SetClock(clock.Now)

	return &env{
		db:        db,
		cfg:       cfg,
		clock:     clock,
		transfers: transfers,
		orders:    orders,
		cards:     cards,
		accounts:  service.NewAccountService(db, log),
	}
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func decStr(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertBalance(t *testing.T, e *env, accountID int64, want int64) {
	t.Helper()
	got := testutil.Balance(t, e.db, accountID)
	require.True(t, got.Equal(dec(want)), "account %d: want %d got %s", accountID, want, got)
}

func entries(t *testing.T, e *env) []model.LedgerEntry {
	t.Helper()
	var out []model.LedgerEntry
	require.NoError(t, e.db.Order("id ASC").Find(&out).Error)
	return out
}

func outbox(t *testing.T, e *env, topic string) []model.OutboxMessage {
	t.Helper()
	var out []model.OutboxMessage
	require.NoError(t, e.db.Where("topic = ?", topic).Order("id ASC").Find(&out).Error)
	return out
}
