// internal/content/content.go
package content

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"

	"github.com/jason-s-yu/trivia/internal/models"
)

// Difficulty values accepted by rooms. DifficultyMixed disables the difficulty filter.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
	DifficultyMixed  = "mixed"
)

// Languages the question catalogue is translated into.
var Languages = map[string]bool{"de": true, "en": true, "es": true, "fr": true}

// ErrNoQuestions is returned by sources that could not find anything matching a filter.
var ErrNoQuestions = errors.New("no questions match the filter")

// Filter narrows a question fetch. A nil CategoryID or a mixed difficulty means "any".
type Filter struct {
	CategoryID *int
	Difficulty string
	Language   string
}

// Unfiltered keeps only the language of f.
func (f Filter) Unfiltered() Filter {
	return Filter{Language: f.Language}
}

// Source is anything that can hand out a random selection of questions.
type Source interface {
	FetchQuestions(ctx context.Context, filter Filter, count int) ([]models.Question, error)
}

// NormalizeLanguage lower-cases lang and falls back to English for unknown codes.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if !Languages[lang] {
		return "en"
	}
	return lang
}

// ValidDifficulty reports whether d is one of the accepted difficulty values.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyMixed:
		return true
	}
	return false
}

// Placeholder returns the built-in question set used when the catalogue is unavailable.
// It is never empty.
func Placeholder(lang string) []models.Question {
	if NormalizeLanguage(lang) == "de" {
		return []models.Question{
			{ID: -1, Text: "Was ist die Hauptstadt von Deutschland?", Options: []string{"Berlin", "München", "Hamburg", "Köln"}, CorrectIndex: 0, Category: "Geografie", Difficulty: DifficultyEasy},
			{ID: -2, Text: "Welcher Planet ist der Sonne am nächsten?", Options: []string{"Venus", "Mars", "Merkur", "Erde"}, CorrectIndex: 2, Category: "Wissenschaft", Difficulty: DifficultyMedium},
		}
	}
	return []models.Question{
		{ID: -1, Text: "What is the capital of Germany?", Options: []string{"Berlin", "Munich", "Hamburg", "Cologne"}, CorrectIndex: 0, Category: "Geography", Difficulty: DifficultyEasy},
		{ID: -2, Text: "Which planet is closest to the sun?", Options: []string{"Venus", "Mars", "Mercury", "Earth"}, CorrectIndex: 2, Category: "Science", Difficulty: DifficultyMedium},
	}
}

// StaticQuestion is a catalogue entry for the in-memory Static source.
type StaticQuestion struct {
	CategoryID int
	Question   models.Question
}

// Static is an in-memory Source. It ignores the language filter, its questions are
// assumed to be in the right language already.
type Static struct {
	mu        sync.Mutex
	questions []StaticQuestion
	rnd       *rand.Rand
	shuffle   bool
}

// NewStatic returns a source serving qs in the given order.
func NewStatic(qs ...StaticQuestion) *Static {
	return &Static{questions: qs}
}

// NewShuffledStatic returns a source that shuffles its matches on every fetch.
func NewShuffledStatic(seed int64, qs ...StaticQuestion) *Static {
	return &Static{questions: qs, rnd: rand.New(rand.NewSource(seed)), shuffle: true}
}

// FetchQuestions implements Source.
func (s *Static) FetchQuestions(ctx context.Context, filter Filter, count int) ([]models.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []models.Question
	for _, sq := range s.questions {
		if filter.CategoryID != nil && sq.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.Difficulty != "" && filter.Difficulty != DifficultyMixed && sq.Question.Difficulty != filter.Difficulty {
			continue
		}
		matches = append(matches, sq.Question)
	}
	if s.shuffle {
		s.rnd.Shuffle(len(matches), func(i, j int) { matches[i], matches[j] = matches[j], matches[i] })
	}
	if count >= 0 && len(matches) > count {
		matches = matches[:count]
	}
	if len(matches) == 0 {
		return nil, ErrNoQuestions
	}
	return matches, nil
}
