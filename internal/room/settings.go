// internal/room/settings.go
package room

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jason-s-yu/trivia/internal/content"
)

const (
	MinCapacity     = 2
	MaxCapacity     = 12
	DefaultCapacity = 8

	MinQuestions     = 1
	MaxQuestions     = 50
	DefaultQuestions = 10

	MinSecondsPerQuestion     = 5
	MaxSecondsPerQuestion     = 120
	DefaultSecondsPerQuestion = 30

	MaxRoomNameLength    = 50
	MaxDisplayNameLength = 30
	MaxChatLength        = 300

	DefaultRoomName = "Trivia Room"
	DefaultAvatar   = "🎮"
)

// Settings are fixed when a room is created.
type Settings struct {
	Name               string `json:"name"`
	Capacity           int    `json:"maxPlayers"`
	CategoryID         *int   `json:"categoryId,omitempty"`
	Difficulty         string `json:"difficulty"`
	QuestionsPerRound  int    `json:"questionCount"`
	SecondsPerQuestion int    `json:"timePerQuestion"`
	Language           string `json:"language"`
	IsPrivate          bool   `json:"isPrivate"`
	PasswordHash       string `json:"-"`
}

// WithDefaults fills zero values with defaults.
func (s Settings) WithDefaults() Settings {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		s.Name = DefaultRoomName
	}
	if s.Capacity == 0 {
		s.Capacity = DefaultCapacity
	}
	if s.Difficulty == "" {
		s.Difficulty = content.DifficultyMixed
	}
	if s.QuestionsPerRound == 0 {
		s.QuestionsPerRound = DefaultQuestions
	}
	if s.SecondsPerQuestion == 0 {
		s.SecondsPerQuestion = DefaultSecondsPerQuestion
	}
	s.Language = strings.ToLower(strings.TrimSpace(s.Language))
	if s.Language == "" {
		s.Language = "en"
	}
	return s
}

// Validate checks ranges. Call it on the result of WithDefaults.
func (s Settings) Validate() error {
	switch {
	case utf8.RuneCountInString(s.Name) > MaxRoomNameLength:
		return reject(ErrInvalidSettings, fmt.Sprintf("name must be at most %d characters", MaxRoomNameLength))
	case s.Capacity < MinCapacity || s.Capacity > MaxCapacity:
		return reject(ErrInvalidSettings, fmt.Sprintf("maxPlayers must be between %d and %d", MinCapacity, MaxCapacity))
	case s.QuestionsPerRound < MinQuestions || s.QuestionsPerRound > MaxQuestions:
		return reject(ErrInvalidSettings, fmt.Sprintf("questionCount must be between %d and %d", MinQuestions, MaxQuestions))
	case s.SecondsPerQuestion < MinSecondsPerQuestion || s.SecondsPerQuestion > MaxSecondsPerQuestion:
		return reject(ErrInvalidSettings, fmt.Sprintf("timePerQuestion must be between %d and %d", MinSecondsPerQuestion, MaxSecondsPerQuestion))
	case !content.ValidDifficulty(s.Difficulty):
		return reject(ErrInvalidSettings, "difficulty must be easy, medium, hard or mixed")
	case !content.Languages[s.Language]:
		return reject(ErrInvalidSettings, "language must be one of de, en, es, fr")
	case s.CategoryID != nil && *s.CategoryID <= 0:
		return reject(ErrInvalidSettings, "categoryId must be positive")
	}
	return nil
}

func (s Settings) filter() content.Filter {
	return content.Filter{CategoryID: s.CategoryID, Difficulty: s.Difficulty, Language: s.Language}
}

// cleanDisplayName trims and truncates name, falling back to "Player N".
func cleanDisplayName(name string, playerID int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Sprintf("Player %d", playerID)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}
	return name
}

func cleanAvatar(avatar string) string {
	avatar = strings.TrimSpace(avatar)
	if avatar == "" || utf8.RuneCountInString(avatar) > 8 {
		return DefaultAvatar
	}
	return avatar
}
