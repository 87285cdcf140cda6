package commands

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/klaviyo-relay/internal/output"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the event log schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := repository.Migrate(cfg.Database.Postgres.ConnString(), cfg.Database.MigrationsDir); err != nil {
			return err
		}
		output.Success("Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if err := repository.MigrateDown(cfg.Database.Postgres.ConnString(), cfg.Database.MigrationsDir, steps); err != nil {
			return err
		}
		output.Success("Migrations rolled back")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back (0 = all)")
}
