package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// NewRollupCmd creates the 'rollup' command.
func NewRollupCmd(opts *globalOptions) *cobra.Command {
	var (
		date string
		days int
	)

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Recompute daily usage aggregates",
		Long: `Recompute the stored per-day aggregates from the recorded questions. By
default only today is refreshed; --days N refreshes the N days ending at --date.`,
		Example: `  pride-mcp rollup
  pride-mcp rollup --date 2024-03-01
  pride-mcp rollup --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse(models.DayLayout, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
				}
				end = parsed
			}
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
			analytics := gorm.NewAnalyticsStore(store)
			for i := days - 1; i >= 0; i-- {
				day := models.DayOf(end.AddDate(0, 0, -i))
				agg, err := analytics.RefreshDaily(ctx, day)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d questions  %d successful  %d users\n",
					day, agg.TotalQuestions, agg.SuccessfulQuestions, agg.UniqueUsers)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Last date to refresh (YYYY-MM-DD, default today)")
	cmd.Flags().IntVarP(&days, "days", "d", 1, "Number of days to refresh")

	return cmd
}
