package usage

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/pride-mcp/internal/db"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// ExportColumns is the header of the CSV question export.
var ExportColumns = []string{
	"id", "question", "user_id", "session_id", "timestamp",
	"response_time_ms", "tools_called", "response_length", "success", "error_message",
}

// WriteCSV streams the questions matching filter to w as CSV and returns the
// number of rows written.
func WriteCSV(ctx context.Context, w io.Writer, store db.QuestionReader, filter models.QuestionFilter) (int, error) {
	if _, err := io.WriteString(w, strings.Join(ExportColumns, ",")+"\n"); err != nil {
		return 0, err
	}
	n := 0
	err := store.ExportQuestions(ctx, filter, func(q *models.Question) error {
		if _, err := io.WriteString(w, CSVRow(q)+"\n"); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// CSVRow renders q as one CSV line without the trailing newline.
func CSVRow(q *models.Question) string {
	return strings.Join([]string{
		strconv.FormatInt(q.ID, 10),
		escapeCsvField(q.Question),
		escapeCsvField(q.UserID),
		escapeCsvField(q.SessionID),
		q.Timestamp.UTC().Format(time.RFC3339),
		optionalInt(q.ResponseTimeMs),
		escapeCsvField(strings.Join(q.ToolsCalled, ";")),
		optionalInt(q.ResponseLength),
		strconv.FormatBool(q.Success),
		escapeCsvField(q.ErrorMessage),
	}, ",")
}

func optionalInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// escapeCsvField escapes a field for CSV output.
func escapeCsvField(s string) string {
	// If field contains comma, quote, or newline, wrap in quotes and escape quotes
	if strings.ContainsAny(s, ",\"\n\r") {
		s = strings.ReplaceAll(s, "\"", "\"\"")
		return "\"" + s + "\""
	}
	return s
}
