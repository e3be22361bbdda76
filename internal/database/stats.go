package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/scoring"
)

const recentSessionLimit = 10

// GetUserStats assembles the statistics page for one user, with category names in lang.
func (s *Store) GetUserStats(ctx context.Context, id uuid.UUID, lang string) (*models.UserStats, error) {
	u, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cols := columnsFor(lang)

	stats := &models.UserStats{
		User:            *u,
		OverallAccuracy: scoring.Accuracy(u.CorrectAnswers, u.TotalQuestions),
		CategoryStats:   []models.CategoryStats{},
		RecentSessions:  []models.SessionSummary{},
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT c.id, c.name, c.%s, c.icon, c.difficulty,
		       cs.games_played, cs.total_questions, cs.correct_answers,
		       cs.total_score, cs.best_score, cs.last_played
		FROM category_stats cs
		JOIN categories c ON c.id = cs.category_id
		WHERE cs.user_id = $1
		ORDER BY cs.total_score DESC`, cols.name), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	for rows.Next() {
		var cs models.CategoryStats
		err := rows.Scan(
			&cs.Category.ID, &cs.Category.Name, &cs.Category.DisplayName, &cs.Category.Icon, &cs.Category.Difficulty,
			&cs.GamesPlayed, &cs.QuestionsPlayed, &cs.CorrectAnswers,
			&cs.TotalScore, &cs.BestScore, &cs.LastPlayed,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		cs.Accuracy = scoring.Accuracy(cs.CorrectAnswers, cs.QuestionsPlayed)
		cs.Performance = scoring.Performance(cs.Accuracy)
		if cs.GamesPlayed > 0 {
			cs.AverageScore = cs.TotalScore / cs.GamesPlayed
		}
		stats.CategoryStats = append(stats.CategoryStats, cs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read category stats: %w", err)
	}

	rows, err = s.pool.Query(ctx, fmt.Sprintf(`
		SELECT s.id, COALESCE(c.%s, 'Mixed'), s.room_code, s.score, s.rank,
		       s.correct_answers, s.total_questions, s.session_type, s.completed_at
		FROM quiz_sessions s
		LEFT JOIN categories c ON c.id = s.category_id
		WHERE s.user_id = $1 AND s.completed_at IS NOT NULL
		ORDER BY s.completed_at DESC
		LIMIT $2`, cols.name), id, recentSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ss models.SessionSummary
		var correct, total int
		if err := rows.Scan(&ss.ID, &ss.Category, &ss.RoomCode, &ss.Score, &ss.Rank,
			&correct, &total, &ss.SessionType, &ss.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		ss.Accuracy = scoring.Accuracy(correct, total)
		stats.RecentSessions = append(stats.RecentSessions, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return stats, nil
}
