package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/models"
)

const userColumns = `id, email, password, username, avatar, preferred_language,
	       total_score, games_played, correct_answers, total_questions, best_score,
	       last_login, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Password, &u.Username, &u.Avatar, &u.PreferredLanguage,
		&u.TotalScore, &u.GamesPlayed, &u.CorrectAnswers, &u.TotalQuestions, &u.BestScore,
		&u.LastLogin, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser hashes user.Password and inserts the account. The stored hash
// replaces the plain password on user.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Avatar == "" {
		user.Avatar = "🎮"
	}
	if user.PreferredLanguage == "" {
		user.PreferredLanguage = "en"
	}

	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	q := `INSERT INTO users (id, email, password, username, avatar, preferred_language)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      RETURNING created_at`

	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q,
			user.ID, user.Email, user.Password, user.Username,
			user.Avatar, user.PreferredLanguage,
		).Scan(&user.CreatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail looks an account up by (case-insensitive) email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))))
}

// GetUserByID looks an account up by id.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.pool.QueryRow(ctx, q, id))
}

// AuthenticateUser checks credentials and stamps last_login on success.
func (s *Store) AuthenticateUser(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrBadLogin
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.ComparePasswordAndHash(password, u.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}
	if !ok {
		return nil, ErrBadLogin
	}

	q := `UPDATE users SET last_login = NOW() WHERE id = $1 RETURNING last_login`
	if err := s.pool.QueryRow(ctx, q, u.ID).Scan(&u.LastLogin); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	return u, nil
}
