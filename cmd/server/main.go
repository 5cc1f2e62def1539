package main

import (
	"context"
	"fmt"
	"os"

	"retailledger/internal/config"
	"retailledger/internal/infrastructure/cache"
	"retailledger/internal/infrastructure/database"
	"retailledger/internal/infrastructure/lock"
	"retailledger/internal/infrastructure/logger"
	"retailledger/internal/infrastructure/mq"
	"retailledger/internal/service"
	"retailledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app holds everything a command needs. Commands that only touch the database
// leave redis and the publisher nil.
type app struct {
	cfg *config.Config
	log *logrus.Logger
	db  *gorm.DB
	rdb *redis.Client

	transfers *service.TransferService
	accounts  *service.AccountService
	orders    *service.StandingOrderService
	cards     *service.CardService
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string
	a := &app{}

	root := &cobra.Command{
		Use:           "retailledger",
		Short:         "Retail banking ledger: transfers, standing orders and virtual cards",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a missing .env is fine
			_ = godotenv.Load()

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(cfg.Log)
			return idgen.Init(cfg.Server.WorkerID)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		serveCommand(a),
		migrateCommand(a),
		standingOrdersCommand(a),
		cardsCommand(a),
	)
	return root
}

func (a *app) openDB() error {
	db, err := database.Open(&a.cfg.Database, a.log)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

// wire opens the database and builds the services. With redis disabled the
// row locks alone serialize concurrent movements.
func (a *app) wire(ctx context.Context) error {
	if err := a.openDB(); err != nil {
		return err
	}

	var locker lock.AccountLocker = lock.NoopLocker{}
	if a.cfg.Redis.Enabled {
		rdb, err := cache.NewRedisClient(ctx, &a.cfg.Redis)
		if err != nil {
			return err
		}
		a.rdb = rdb
		locker = lock.NewRedisAccountLocker(rdb, a.cfg.Lock)
	} else {
		a.log.Warn("redis disabled, distributed account locks off")
	}

	a.transfers = service.NewTransferService(a.db, locker, a.cfg, a.log)
	a.accounts = service.NewAccountService(a.db, a.log)
	a.orders = service.NewStandingOrderService(a.db, a.transfers, a.cfg, a.log)
	cards, err := service.NewCardService(a.db, a.transfers, a.cfg, a.log)
	if err != nil {
		return err
	}
	a.cards = cards
	return nil
}

func (a *app) publisher() (mq.Publisher, error) {
	if !a.cfg.Kafka.Enabled {
		a.log.Warn("kafka disabled, outbox messages are logged instead of published")
		return mq.NewLogPublisher(a.log), nil
	}
	producer, err := mq.NewSyncProducer(&a.cfg.Kafka)
	if err != nil {
		return nil, err
	}
	return mq.NewKafkaPublisher(producer), nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := jsonIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
