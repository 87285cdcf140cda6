package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/klaviyo-relay/internal/output"
	"github.com/telhawk-systems/klaviyo-relay/internal/retention"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete local event log rows older than the retention window",
	Long: `Runs one retention sweep immediately. The daily sweep started by "relay serve"
does the same work on its schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days := cfg.Retention.Days
		if cmd.Flags().Changed("days") {
			days, _ = cmd.Flags().GetInt("days")
		}
		if days < 0 {
			return errors.New("--days must not be negative")
		}

		repo, err := newRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		res, err := retention.NewSweeper(repo, days, logger).Run(cmd.Context())
		if err != nil {
			return err
		}
		output.Success("Deleted %d event log rows created before %s", res.Deleted, res.Threshold.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Int("days", retention.DefaultDays, "retention window in days (defaults to retention.days)")
}
