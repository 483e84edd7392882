package main

import (
	"context"
	"fmt"

	"gearhead-backend/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the messaging schema to the project database",
		Long: `Creates the conversation, message, bid and notification tables, the
messaging unlock function and trigger, row-level security policies and the
realtime publication. Every step is idempotent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for i, m := range database.Migrations() {
					fmt.Printf("%2d. %s\n", i+1, m.Name)
				}
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := database.NewConnection(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.RunMigrations(ctx, db); err != nil {
				return err
			}
			fmt.Printf("Applied %d migrations.\n", len(database.Migrations()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the migration steps without connecting")
	return cmd
}
