package main

import (
	"encoding/json"
	"fmt"
	"time"

	"retailledger/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openDB(); err != nil {
				return err
			}
			if err := database.Migrate(a.db); err != nil {
				return err
			}
			a.log.Info("schema migrated")
			return nil
		},
	}
}

func standingOrdersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standing-orders",
		Short: "Standing order maintenance",
	}

	var asOf string
	run := &cobra.Command{
		Use:   "run",
		Short: "Execute every standing order due on or before --as-of",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().In(a.cfg.Scheduler.Location())
			if asOf != "" {
				parsed, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				date = parsed
			}
			if err := a.wire(cmd.Context()); err != nil {
				return err
			}
			result, err := a.orders.RunDueOrders(cmd.Context(), date)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	run.Flags().StringVar(&asOf, "as-of", "", "run date (YYYY-MM-DD), defaults to today in the scheduler timezone")

	cmd.AddCommand(run)
	return cmd
}

func cardsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Virtual card maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset-spend",
		Short: "Start a new spending period on every card",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.wire(cmd.Context()); err != nil {
				return err
			}
			n, err := a.cards.ResetSpent(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"cards_reset": n})
		},
	})
	return cmd
}

func jsonIndent(v interface{}) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
