package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/usage"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// NewExportCmd creates the 'export' command.
func NewExportCmd(opts *globalOptions) *cobra.Command {
	var (
		format string
		output string
		filter models.QuestionFilter
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded questions as JSON or CSV",
		Example: `  pride-mcp export --format csv --output questions.csv
  pride-mcp export --start 2024-03-01 --end 2024-03-31
  pride-mcp export --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("--format must be json or csv, got %q", format)
			}
			for _, d := range []string{filter.StartDate, filter.EndDate} {
				if d == "" {
					continue
				}
				if _, err := time.Parse(models.DayLayout, d); err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
				}
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

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := exportQuestions(ctx, out, gorm.NewQuestionStore(store), filter, format)
			if err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d questions to %s\n", n, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&filter.UserID, "user", "", "Only questions of this user")
	cmd.Flags().StringVar(&filter.StartDate, "start", "", "First date to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.EndDate, "end", "", "Last date to include (YYYY-MM-DD)")

	return cmd
}

func exportQuestions(ctx context.Context, w io.Writer, store *gorm.QuestionStore, filter models.QuestionFilter, format string) (int, error) {
	if format == "csv" {
		return usage.WriteCSV(ctx, w, store, filter)
	}

	questions := make([]*models.Question, 0)
	err := store.ExportQuestions(ctx, filter, func(q *models.Question) error {
		questions = append(questions, q)
		return nil
	})
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return len(questions), enc.Encode(map[string]any{
		"questions":   questions,
		"total":       len(questions),
		"export_date": time.Now().UTC().Format(time.RFC3339),
	})
}
