package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/trivia/internal/outcome"
)

// RecordOutcome implements outcome.Store. The user totals, the per-category
// aggregate and the session row are written in one transaction.
func (s *Store) RecordOutcome(ctx context.Context, o outcome.Outcome) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := foldStats(ctx, tx, o.Identity, o.CategoryID, o.Score, o.CorrectCount, o.TotalQuestions, o.PlayedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO quiz_sessions (
				user_id, room_code, session_type, category_id, difficulty, language,
				score, correct_answers, total_questions, rank, played_at, completed_at
			) VALUES ($1, $2, 'multiplayer', $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			o.Identity, o.RoomCode, o.CategoryID, o.Difficulty, o.Language,
			o.Score, o.CorrectCount, o.TotalQuestions, o.Rank, o.PlayedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", o.Identity, err)
	}
	return nil
}

// foldStats adds one finished game to the user's totals and, when the game had
// a category, to the user's aggregate for that category.
func foldStats(ctx context.Context, tx pgx.Tx, user uuid.UUID, categoryID *int, score, correct, total int, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET total_score     = total_score + $2,
		    games_played    = games_played + 1,
		    correct_answers = correct_answers + $3,
		    total_questions = total_questions + $4,
		    best_score      = GREATEST(best_score, $2)
		WHERE id = $1`,
		user, score, correct, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if categoryID == nil {
		return nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO category_stats (
			user_id, category_id, games_played, total_score,
			correct_answers, total_questions, best_score, last_played
		) VALUES ($1, $2, 1, $3, $4, $5, $3, $6)
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			games_played    = category_stats.games_played + 1,
			total_score     = category_stats.total_score + EXCLUDED.total_score,
			correct_answers = category_stats.correct_answers + EXCLUDED.correct_answers,
			total_questions = category_stats.total_questions + EXCLUDED.total_questions,
			best_score      = GREATEST(category_stats.best_score, EXCLUDED.best_score),
			last_played     = EXCLUDED.last_played`,
		user, *categoryID, score, correct, total, at)
	return err
}
