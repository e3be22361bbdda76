package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/scoring"
)

var (
	ErrSessionNotFound  = errors.New("quiz session not found")
	ErrSessionCompleted = errors.New("quiz session already completed")
)

const soloSessionType = "singleplayer"

// CreateSoloSession opens a single-player session. A nil UserID makes it
// anonymous; anonymous sessions never touch user statistics.
func (s *Store) CreateSoloSession(ctx context.Context, sess *models.SoloSession) error {
	q := `INSERT INTO quiz_sessions (user_id, session_type, category_id, difficulty, language)
	      VALUES ($1, $2, $3, $4, $5)
	      RETURNING id, played_at`
	err := s.pool.QueryRow(ctx, q,
		sess.UserID, soloSessionType, sess.CategoryID, sess.Difficulty, sess.Language,
	).Scan(&sess.ID, &sess.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create solo session: %w", err)
	}
	return nil
}

// CompleteSoloSession scores a session and, when it belongs to a user, folds it
// into that user's totals and category aggregate. Sessions owned by someone
// other than caller are reported as not found. A session completes only once.
func (s *Store) CompleteSoloSession(ctx context.Context, id int64, caller uuid.UUID, correct, total int, secondsSpent float64) (*models.SoloResult, error) {
	var sess models.SoloSession
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, user_id, category_id, difficulty, language, played_at, completed_at
			FROM quiz_sessions
			WHERE id = $1 AND session_type = $2
			FOR UPDATE`, id, soloSessionType,
		).Scan(&sess.ID, &sess.UserID, &sess.CategoryID, &sess.Difficulty, &sess.Language, &sess.StartedAt, &sess.CompletedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if sess.UserID != nil && *sess.UserID != caller {
			return ErrSessionNotFound
		}
		if sess.CompletedAt != nil {
			return ErrSessionCompleted
		}

		now := time.Now()
		sess.Score = scoring.SoloScore(correct, total, secondsSpent)
		sess.CorrectAnswers = correct
		sess.TotalQuestions = total
		sess.SecondsSpent = secondsSpent
		sess.CompletedAt = &now

		_, err = tx.Exec(ctx, `
			UPDATE quiz_sessions
			SET score = $2, correct_answers = $3, total_questions = $4,
			    seconds_spent = $5, completed_at = $6
			WHERE id = $1`,
			sess.ID, sess.Score, correct, total, secondsSpent, now)
		if err != nil {
			return err
		}
		if sess.UserID == nil {
			return nil
		}
		return foldStats(ctx, tx, *sess.UserID, sess.CategoryID, sess.Score, correct, total, now)
	})
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionCompleted) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete session %d: %w", id, err)
	}

	acc := scoring.Accuracy(correct, total)
	rank := scoring.Performance(acc)
	if acc == 0 {
		rank = "Beginner"
	}
	return &models.SoloResult{
		Session: sess,
		Performance: models.SoloPerformance{
			Accuracy:               acc,
			AverageTimePerQuestion: int(math.Round(secondsSpent / float64(total))),
			Score:                  sess.Score,
			Rank:                   rank,
		},
	}, nil
}
