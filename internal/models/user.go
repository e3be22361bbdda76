package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account with its lifetime totals.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"-"`
	Username string    `json:"username"`

	Avatar            string `json:"avatar"`
	PreferredLanguage string `json:"preferred_language"`

	// aggregate totals, folded in after every finished game
	TotalScore     int `json:"total_score"`
	GamesPlayed    int `json:"games_played"`
	CorrectAnswers int `json:"correct_answers"`
	TotalQuestions int `json:"total_questions"`
	BestScore      int `json:"best_score"`

	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
