package models

import (
	"time"

	"github.com/google/uuid"
)

// CategoryStats is a user's aggregate performance in one category.
type CategoryStats struct {
	Category        Category   `json:"category"`
	GamesPlayed     int        `json:"gamesPlayed"`
	QuestionsPlayed int        `json:"questionsPlayed"`
	CorrectAnswers  int        `json:"correctAnswers"`
	TotalScore      int        `json:"totalScore"`
	Accuracy        int        `json:"accuracy"`
	Performance     string     `json:"performance"`
	AverageScore    int        `json:"averageScore"`
	BestScore       int        `json:"bestScore"`
	LastPlayed      *time.Time `json:"lastPlayed,omitempty"`
}

// SessionSummary is one finished game as shown in a user's history.
type SessionSummary struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	RoomCode    string    `json:"roomCode,omitempty"`
	Score       int       `json:"score"`
	Rank        int       `json:"rank"`
	Accuracy    int       `json:"accuracy"`
	SessionType string    `json:"sessionType"`
	CompletedAt time.Time `json:"completedAt"`
}

// UserStats is the full statistics view for one user.
type UserStats struct {
	User            User             `json:"user"`
	OverallAccuracy int              `json:"overallAccuracy"`
	CategoryStats   []CategoryStats  `json:"categoryStats"`
	RecentSessions  []SessionSummary `json:"recentSessions"`
}

// SoloSession is a single-player quiz run. It is scored once, when completed.
type SoloSession struct {
	ID             int64      `json:"id"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	CategoryID     *int       `json:"categoryId,omitempty"`
	Difficulty     string     `json:"difficulty"`
	Language       string     `json:"language"`
	Score          int        `json:"score"`
	CorrectAnswers int        `json:"correctAnswers"`
	TotalQuestions int        `json:"totalQuestions"`
	SecondsSpent   float64    `json:"timeSpent"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// SoloResult is the answer to completing a solo session.
type SoloResult struct {
	Session     SoloSession     `json:"session"`
	Performance SoloPerformance `json:"performance"`
}

// SoloPerformance summarizes how a solo session went.
type SoloPerformance struct {
	Accuracy               int    `json:"accuracy"`
	AverageTimePerQuestion int    `json:"averageTimePerQuestion"`
	Score                  int    `json:"score"`
	Rank                   string `json:"rank"`
}
