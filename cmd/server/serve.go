package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"retailledger/internal/handler"
	"retailledger/internal/job"

	"github.com/spf13/cobra"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox sender and the cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := a.wire(ctx); err != nil {
				return err
			}
			publisher, err := a.publisher()
			if err != nil {
				return err
			}
			defer publisher.Close()

			outboxSender := job.NewOutboxSender(a.db, publisher, a.cfg.Outbox, a.log)
			go outboxSender.Start(ctx)

			scheduler := job.NewScheduler(a.cfg.Scheduler.Location(), a.log)
			if a.cfg.Scheduler.Enabled {
				orderJob := job.NewStandingOrderJob(a.orders, a.cfg.Scheduler.Location(), a.log)
				if err := scheduler.Register("standing-orders", a.cfg.Scheduler.Cron, orderJob.Run); err != nil {
					return err
				}
			}
			if a.cfg.Card.SpendResetCron != "" {
				resetJob := job.NewCardSpendResetJob(a.cards, a.log)
				if err := scheduler.Register("card-spend-reset", a.cfg.Card.SpendResetCron, resetJob.Run); err != nil {
					return err
				}
			}
			scheduler.Start()

			h := handler.NewHandler(a.accounts, a.transfers, a.orders, a.cards, a.log)
			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler: handler.SetupRouter(h, a.cfg, a.log),
			}

			serveErr := make(chan error, 1)
			go func() {
				a.log.WithField("port", a.cfg.Server.Port).Info("http server listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-quit:
				a.log.WithField("signal", sig.String()).Info("shutting down")
			case err := <-serveErr:
				a.log.WithError(err).Error("http server failed")
				cancel()
				<-scheduler.Stop().Done()
				return err
			}

			cancel()
			<-scheduler.Stop().Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Error("http server shutdown")
			}

			a.log.Info("server stopped")
			return nil
		},
	}
}
