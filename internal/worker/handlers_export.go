package worker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/thebtf/pride-mcp/internal/db/gorm"
	"github.com/thebtf/pride-mcp/internal/usage"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// handleExportQuestions exports questions as JSON or CSV.
// Supports query parameters: format (json/csv), user_id, start_date, end_date.
func (s *Service) handleExportQuestions(w http.ResponseWriter, r *http.Request) {
	if s.questions == nil {
		unavailable(w, "question store")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		http.Error(w, "format must be 'json' or 'csv'", http.StatusBadRequest)
		return
	}
	filter, err := questionFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := gorm.WithTimeout(r.Context(), gorm.SlowQueryTimeout)
	defer cancel()

	now := s.now().UTC()
	filename := fmt.Sprintf("pride_questions_%s.%s", now.Format("20060102_150405"), format)

	switch format {
	case "json":
		questions := make([]*models.Question, 0)
		err := s.questions.ExportQuestions(ctx, filter, func(q *models.Question) error {
			questions = append(questions, q)
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
		writeJSON(w, map[string]any{
			"questions":   questions,
			"total":       len(questions),
			"export_date": now.Format(time.RFC3339),
		})

	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
		w.WriteHeader(http.StatusOK)

		if _, err := usage.WriteCSV(ctx, w, s.questions, filter); err != nil {
			// Headers are already sent; the truncated body is all we can do.
			s.logger.Error().Err(err).Msg("Question CSV export aborted")
		}
	}
}
