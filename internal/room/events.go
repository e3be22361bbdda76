// internal/room/events.go
package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/scoring"
)

// Outbound event types.
const (
	EventJoinSuccess     = "join-success"
	EventJoinError       = "join-error"
	EventPlayerJoined    = "player-joined"
	EventPlayerReady     = "player-ready"
	EventPlayerLeft      = "player-left"
	EventGameStarted     = "game-started"
	EventNewQuestion     = "new-question"
	EventAnswerProgress  = "answer-progress"
	EventQuestionResults = "question-results"
	EventGameEnded       = "game-ended"
	EventRoomClosed      = "room-closed"
	EventChat            = "chat"
	EventError           = "error"
)

// Close reasons carried by room-closed.
const (
	ReasonHostLeft         = "host-left"
	ReasonNotEnoughPlayers = "not-enough-players"
	ReasonInternalError    = "internal-error"
	ReasonFinished         = "finished"
	ReasonExpired          = "expired"
	ReasonShutdown         = "server-shutdown"
)

// Event is a message for one or more members.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Sink delivers events to one member. Send must not block.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Send(ev Event) { f(ev) }

// Journal receives a copy of significant room events. Record must not block.
type Journal interface {
	Record(code, eventType string, payload any)
}

// MemberView is the public part of a member.
type MemberView struct {
	PlayerID    int        `json:"playerId"`
	Identity    *uuid.UUID `json:"identity,omitempty"`
	DisplayName string     `json:"displayName"`
	Avatar      string     `json:"avatar"`
	IsHost      bool       `json:"isHost"`
	IsReady     bool       `json:"isReady"`
	Score       int        `json:"score"`
}

// Info is a read-only snapshot of a room.
type Info struct {
	Code               string       `json:"code"`
	Name               string       `json:"name"`
	HostID             uuid.UUID    `json:"hostId"`
	Status             Status       `json:"status"`
	Capacity           int          `json:"maxPlayers"`
	PlayerCount        int          `json:"currentPlayers"`
	CategoryID         *int         `json:"categoryId,omitempty"`
	Difficulty         string       `json:"difficulty"`
	QuestionsPerRound  int          `json:"questionCount"`
	SecondsPerQuestion int          `json:"timePerQuestion"`
	Language           string       `json:"language"`
	IsPrivate          bool         `json:"isPrivate"`
	HasPassword        bool         `json:"hasPassword"`
	Players            []MemberView `json:"players"`
	CreatedAt          time.Time    `json:"createdAt"`
}

type joinSuccessPayload struct {
	Code     string `json:"code"`
	PlayerID int    `json:"playerId"`
	Room     Info   `json:"room"`
}

type playerJoinedPayload struct {
	Player MemberView `json:"player"`
	Room   Info       `json:"room"`
}

type playerReadyPayload struct {
	PlayerID   int  `json:"playerId"`
	ReadyCount int  `json:"readyCount"`
	Total      int  `json:"total"`
	AllReady   bool `json:"allReady"`
}

type playerLeftPayload struct {
	Identity    *uuid.UUID `json:"identity,omitempty"`
	PlayerID    int        `json:"playerId"`
	DisplayName string     `json:"displayName"`
	NewCount    int        `json:"newCount"`
}

type gameStartedPayload struct {
	TotalQuestions     int `json:"totalQuestions"`
	SecondsPerQuestion int `json:"secondsPerQuestion"`
}

// QuestionView is a question as players see it; the correct index is withheld.
type QuestionView struct {
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
}

type newQuestionPayload struct {
	Index     int          `json:"index"`
	Number    int          `json:"number"`
	Total     int          `json:"total"`
	Question  QuestionView `json:"question"`
	TimeLimit int          `json:"timeLimit"`
}

type answerProgressPayload struct {
	AnsweredCount int `json:"answeredCount"`
	Total         int `json:"total"`
}

// AnswerResult is one member's line in question-results.
type AnswerResult struct {
	PlayerID       int     `json:"playerId"`
	DisplayName    string  `json:"displayName"`
	SelectedOption *int    `json:"selectedOption"`
	IsCorrect      bool    `json:"isCorrect"`
	Points         int     `json:"points"`
	TotalScore     int     `json:"totalScore"`
	Latency        float64 `json:"answerTime,omitempty"`
}

type questionResultsPayload struct {
	Index        int                `json:"index"`
	CorrectIndex int                `json:"correctIndex"`
	Results      []AnswerResult     `json:"results"`
	Leaderboard  []scoring.Standing `json:"leaderboard"`
}

// AggregateStats summarizes a finished game.
type AggregateStats struct {
	TotalPlayers int `json:"totalPlayers"`
	AverageScore int `json:"averageScore"`
	HighestScore int `json:"highestScore"`
}

type gameEndedPayload struct {
	FinalResults   []scoring.Standing `json:"finalResults"`
	Winner         *scoring.Standing  `json:"winner"`
	TotalQuestions int                `json:"totalQuestions"`
	AggregateStats AggregateStats     `json:"aggregateStats"`
}

type roomClosedPayload struct {
	Reason string `json:"reason"`
}

// ChatEvent is a relayed chat line. It is never persisted.
type ChatEvent struct {
	PlayerID  int       `json:"playerId"`
	Sender    string    `json:"sender"`
	Avatar    string    `json:"avatar"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ErrorEvent builds an error event for a single client.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Payload: errorPayload{Message: msg}}
}

// JoinErrorEvent builds the reply for a rejected join.
func JoinErrorEvent(err error) Event {
	return Event{Type: EventJoinError, Payload: map[string]string{"reason": Reason(err)}}
}
