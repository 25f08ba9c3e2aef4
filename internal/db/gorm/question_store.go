package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/thebtf/pride-mcp/internal/db"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// QuestionStore appends and lists invocation records.
type QuestionStore struct {
	db *gorm.DB
}

var _ db.QuestionStore = (*QuestionStore)(nil)

// NewQuestionStore creates a question store on top of store.
func NewQuestionStore(store *Store) *QuestionStore {
	return &QuestionStore{db: store.DB}
}

// StoreQuestion inserts q and returns its row id. Records are never updated.
func (s *QuestionStore) StoreQuestion(ctx context.Context, q *models.Question) (int64, error) {
	if q == nil {
		return 0, models.ValidationError("question is nil")
	}
	row := questionToRow(q)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return row.ID, nil
}

// GetQuestion returns a single record by id.
func (s *QuestionStore) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	var row QuestionRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewError(models.KindNotFound, fmt.Sprintf("question %d not found", id))
	}
	if err != nil {
		return nil, err
	}
	return rowToQuestion(&row), nil
}

// GetQuestions lists records newest first.
func (s *QuestionStore) GetQuestions(ctx context.Context, filter models.QuestionFilter) ([]*models.Question, error) {
	var rows []QuestionRow
	err := s.filtered(ctx, filter).
		Order("timestamp DESC, id DESC").
		Limit(clampLimit(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return toQuestions(rows), nil
}

// GetQuestionsByDay returns every record of one UTC date, oldest first.
func (s *QuestionStore) GetQuestionsByDay(ctx context.Context, day string) ([]*models.Question, error) {
	var rows []QuestionRow
	err := s.db.WithContext(ctx).
		Where("day = ?", day).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list questions for %s: %w", day, err)
	}
	return toQuestions(rows), nil
}

// CountQuestions returns the number of records matching filter, ignoring limit and offset.
func (s *QuestionStore) CountQuestions(ctx context.Context, filter models.QuestionFilter) (int64, error) {
	var n int64
	if err := s.filtered(ctx, filter).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// ExportQuestions streams every record matching filter, oldest first, to fn.
// Limit and offset are honoured only when set.
func (s *QuestionStore) ExportQuestions(ctx context.Context, filter models.QuestionFilter, fn func(*models.Question) error) error {
	q := s.filtered(ctx, filter).Order("timestamp ASC, id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	rows, err := q.Rows()
	if err != nil {
		return fmt.Errorf("export questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row QuestionRow
		if err := s.db.ScanRows(rows, &row); err != nil {
			return fmt.Errorf("scan question: %w", err)
		}
		if err := fn(rowToQuestion(&row)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *QuestionStore) filtered(ctx context.Context, filter models.QuestionFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&QuestionRow{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.StartDate != "" {
		q = q.Where("day >= ?", filter.StartDate)
	}
	if filter.EndDate != "" {
		q = q.Where("day <= ?", filter.EndDate)
	}
	return q
}

func toQuestions(rows []QuestionRow) []*models.Question {
	out := make([]*models.Question, len(rows))
	for i := range rows {
		out[i] = rowToQuestion(&rows[i])
	}
	return out
}
