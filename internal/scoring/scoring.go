// internal/scoring/scoring.go
package scoring

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// BasePoints is awarded for every correct answer; the speed bonus is added on top.
const BasePoints = 100

// speedBonusPerSecond is the bonus for each second left on the clock.
const speedBonusPerSecond = 2

// Standing is one player's line in a leaderboard.
type Standing struct {
	PlayerID     int        `json:"playerId"`
	Identity     *uuid.UUID `json:"identity,omitempty"` // nil for guests
	DisplayName  string     `json:"displayName"`
	Avatar       string     `json:"avatar"`
	Score        int        `json:"totalScore"`
	CorrectCount int        `json:"correctAnswers"`
	Accuracy     int        `json:"accuracy"`
	Rank         int        `json:"rank"`
}

// Points returns the points for a single answer.
// latencySeconds is expected to be clamped to [0, secondsPerQuestion] by the caller.
func Points(isCorrect bool, latencySeconds float64, secondsPerQuestion int) int {
	if !isCorrect {
		return 0
	}
	bonus := math.Max(0, (float64(secondsPerQuestion)-latencySeconds)*speedBonusPerSecond)
	return BasePoints + int(math.Round(bonus))
}

// Rank returns a new slice ordered by score descending. Players with equal scores keep
// the order they were passed in (join order). Rank and Accuracy are filled in against
// totalQuestions.
func Rank(standings []Standing, totalQuestions int) []Standing {
	ranked := make([]Standing, len(standings))
	copy(ranked, standings)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].Accuracy = Accuracy(ranked[i].CorrectCount, totalQuestions)
	}
	return ranked
}

// Accuracy is the rounded percentage of correct answers, 0 when nothing was played.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Performance maps an accuracy percentage to the tier shown on profile pages.
func Performance(accuracy int) string {
	switch {
	case accuracy >= 90:
		return "Expert"
	case accuracy >= 75:
		return "Advanced"
	case accuracy >= 60:
		return "Good"
	case accuracy > 0:
		return "Beginner"
	default:
		return "Unplayed"
	}
}

// soloSecondsPerQuestion is the pace a solo player is measured against.
const soloSecondsPerQuestion = 30

// SoloScore scores a finished solo session: 10 points per correct answer plus a
// bonus for every second the average answer beat soloSecondsPerQuestion.
func SoloScore(correct, total int, secondsSpent float64) int {
	if total <= 0 || correct <= 0 {
		return 0
	}
	perQuestion := secondsSpent / float64(total)
	bonus := math.Max(0, (soloSecondsPerQuestion-perQuestion)*float64(correct))
	return int(math.Round(float64(correct)*10 + bonus))
}
