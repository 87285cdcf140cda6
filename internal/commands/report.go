package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/klaviyo-relay/internal/httputil"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/output"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run aggregate queries against Klaviyo",
}

var reportMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Count events and emails for every metric on a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := requiredDate(cmd, "date")
		if err != nil {
			return err
		}

		client, err := newKlaviyoClient()
		if err != nil {
			return err
		}
		var cleanup closers
		defer cleanup.run()
		svc, err := newAnalytics(client, &cleanup)
		if err != nil {
			return err
		}

		summaries, err := svc.MetricCountsByDate(cmd.Context(), date)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("output")
		if handled, err := output.Structured(format, summaries); handled {
			return err
		}
		if len(summaries) == 0 {
			output.Info("No metrics found")
			return nil
		}

		table := output.NewTable([]string{"METRIC", "DATE", "COUNT", "EMAILS", "ERROR"})
		for _, s := range summaries {
			table.AddRow([]string{s.Metric, s.Date, strconv.Itoa(s.Count), strconv.Itoa(len(s.Emails)), errorText(s.Error)})
		}
		table.Render()
		return nil
	},
}

var reportProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Tally one profile's events per metric",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return errors.New("--email is required")
		}
		window, err := windowFlags(cmd)
		if err != nil {
			return err
		}
		if window.IsZero() {
			output.Warn("No --start/--end given: scanning the full event history")
		}

		client, err := newKlaviyoClient()
		if err != nil {
			return err
		}
		var cleanup closers
		defer cleanup.run()
		svc, err := newAnalytics(client, &cleanup)
		if err != nil {
			return err
		}

		summary, err := svc.ProfileMetricSummary(cmd.Context(), email, window)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("output")
		if handled, err := output.Structured(format, summary); handled {
			return err
		}

		names := make([]string, 0, len(summary.MetricSummary))
		for name := range summary.MetricSummary {
			names = append(names, name)
		}
		sort.Strings(names)

		table := output.NewTable([]string{"METRIC", "EVENTS"})
		for _, name := range names {
			table.AddRow([]string{name, strconv.Itoa(summary.MetricSummary[name])})
		}
		table.Render()
		output.Info("\n%d matching events for %s (%d scanned)", summary.TotalEvents, summary.Email, summary.Scanned)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportMetricsCmd)
	reportCmd.AddCommand(reportProfileCmd)

	reportMetricsCmd.Flags().String("date", "", "day to report (YYYY-MM-DD)")
	reportProfileCmd.Flags().String("email", "", "profile email")
	reportProfileCmd.Flags().String("start", "", "window start, inclusive (YYYY-MM-DD)")
	reportProfileCmd.Flags().String("end", "", "window end, exclusive (YYYY-MM-DD)")
}

// errorText flattens a summary error, which may be an upstream JSON body, onto one line.
func errorText(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func requiredDate(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	t, err := httputil.ParseDateParam(raw)
	if err != nil {
		return time.Time{}, err
	}
	return *t, nil
}

func windowFlags(cmd *cobra.Command) (klaviyo.Window, error) {
	rawStart, _ := cmd.Flags().GetString("start")
	rawEnd, _ := cmd.Flags().GetString("end")
	start, err := httputil.ParseDateParam(rawStart)
	if err != nil {
		return klaviyo.Window{}, err
	}
	end, err := httputil.ParseDateParam(rawEnd)
	if err != nil {
		return klaviyo.Window{}, err
	}
	if start != nil && end != nil && !end.After(*start) {
		return klaviyo.Window{}, errors.New("--end must be after --start")
	}
	return klaviyo.Window{Start: start, End: end}, nil
}
