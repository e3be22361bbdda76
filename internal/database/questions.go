package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/models"
)

// localized holds the column names for one language. Only values from this
// table are ever spliced into SQL.
type localized struct {
	question string
	options  string
	name     string
}

var languageColumns = map[string]localized{
	"de": {"question_de", "options_de", "name_de"},
	"en": {"question_en", "options_en", "name_en"},
	"es": {"question_es", "options_es", "name_es"},
	"fr": {"question_fr", "options_fr", "name_fr"},
}

func columnsFor(lang string) localized {
	return languageColumns[content.NormalizeLanguage(lang)]
}

// FetchQuestions implements content.Source. Questions come back in random order,
// already resolved to the filter's language, and have their play counter bumped.
func (s *Store) FetchQuestions(ctx context.Context, filter content.Filter, count int) ([]models.Question, error) {
	cols := columnsFor(filter.Language)

	where := []string{"q.is_active", "c.is_active"}
	var args []any
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		where = append(where, fmt.Sprintf("q.category_id = $%d", len(args)))
	}
	if filter.Difficulty != "" && filter.Difficulty != content.DifficultyMixed {
		args = append(args, filter.Difficulty)
		where = append(where, fmt.Sprintf("q.difficulty = $%d", len(args)))
	}
	args = append(args, count)

	q := fmt.Sprintf(`
		SELECT q.id, q.%s, q.%s, q.correct_answer, c.%s, q.difficulty
		FROM questions q
		JOIN categories c ON c.id = q.category_id
		WHERE %s
		ORDER BY random()
		LIMIT $%d`,
		cols.question, cols.options, cols.name, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	var ids []int
	for rows.Next() {
		var qu models.Question
		if err := rows.Scan(&qu.ID, &qu.Text, &qu.Options, &qu.CorrectIndex, &qu.Category, &qu.Difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, qu)
		ids = append(ids, qu.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, content.ErrNoQuestions
	}

	if _, err := s.pool.Exec(ctx, `UPDATE questions SET times_played = times_played + 1 WHERE id = ANY($1)`, ids); err != nil {
		return nil, fmt.Errorf("failed to bump question counters: %w", err)
	}
	return questions, nil
}

// ListCategories returns the active categories with names in lang.
func (s *Store) ListCategories(ctx context.Context, lang string) ([]models.Category, error) {
	cols := columnsFor(lang)
	q := fmt.Sprintf(`
		SELECT id, name, %[1]s, icon, difficulty
		FROM categories
		WHERE is_active
		ORDER BY %[1]s`, cols.name)

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Icon, &c.Difficulty); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
