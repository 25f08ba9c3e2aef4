package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/notify"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// NewReportCmd creates the 'report' command.
func NewReportCmd(opts *globalOptions) *cobra.Command {
	var (
		days       int
		toSlack    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print or send the usage analytics report",
		Example: `  pride-mcp report
  pride-mcp report --days 7 --json
  pride-mcp report --days 1 --slack`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 || days > gorm.MaxSummaryDays {
				return fmt.Errorf("--days must be between 1 and %d", gorm.MaxSummaryDays)
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, stderr)

			store, err := requireStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			now := time.Now()
			summary, err := gorm.NewAnalyticsStore(store).Summary(ctx, days, now)
			if err != nil {
				return err
			}

			if toSlack {
				slack := notify.NewSlack(notify.Config{WebhookURL: cfg.SlackWebhookURL, Channel: cfg.SlackChannel})
				if err := slack.NotifyAnalytics(ctx, summary, now); err != nil {
					return fmt.Errorf("send report: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Analytics report sent to Slack")
				return nil
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 1, "Number of days to cover")
	cmd.Flags().BoolVar(&toSlack, "slack", false, "Send the report to the configured Slack webhook")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}

func printSummary(w io.Writer, s *models.AnalyticsSummary) {
	o := s.OverallStats
	rate := models.DailyAggregate{TotalQuestions: o.TotalQuestions, SuccessfulQuestions: o.SuccessfulQuestions}.SuccessRate()

	fmt.Fprintf(w, "PRIDE MCP usage, last %d day(s)\n\n", s.PeriodDays)
	fmt.Fprintf(w, "  Questions:     %d\n", o.TotalQuestions)
	fmt.Fprintf(w, "  Success rate:  %.1f%%\n", rate)
	fmt.Fprintf(w, "  Unique users:  %d\n", o.UniqueUsers)
	fmt.Fprintf(w, "  Avg response:  %.0f ms\n", o.AvgResponseTimeMs)
	fmt.Fprintf(w, "  Active days:   %d\n", o.ActiveDays)

	if len(s.DailyStats) > 0 {
		fmt.Fprintln(w, "\nDaily:")
		for _, d := range s.DailyStats {
			fmt.Fprintf(w, "  %s  %5d questions  %5.1f%% ok  %d users\n", d.Date, d.TotalQuestions, d.SuccessRate(), d.UniqueUsers)
		}
	}
	if len(s.CommonQuestions) > 0 {
		fmt.Fprintln(w, "\nTop questions:")
		for i, q := range s.CommonQuestions {
			fmt.Fprintf(w, "  %2d. %s (%d)\n", i+1, q.Question, q.Count)
		}
	}
}
