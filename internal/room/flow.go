// internal/room/flow.go
package room

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/outcome"
	"github.com/jason-s-yu/trivia/internal/scoring"
	"github.com/sirupsen/logrus"
)

// Everything in this file runs on the room goroutine.

func (r *Room) join(req JoinRequest, sink Sink) (MemberView, error) {
	if r.status != StatusWaiting {
		return MemberView{}, reject(ErrAlreadyStarted, "Game already started")
	}
	if r.playerCount >= r.Settings.Capacity {
		return MemberView{}, reject(ErrRoomFull, "Room is full")
	}
	if r.Settings.PasswordHash != "" && !r.deps.VerifyPassword(req.Password, r.Settings.PasswordHash) {
		return MemberView{}, reject(ErrWrongPassword, "Wrong password")
	}
	if req.Identity != uuid.Nil {
		for _, m := range r.members {
			if m.Identity == req.Identity {
				return MemberView{}, reject(ErrAlreadyInRoom, "You are already in this room")
			}
		}
	}

	if r.playerCount == 0 {
		r.cancelTimer()
	}
	m := &Member{
		PlayerID: r.nextPlayerID,
		Identity: req.Identity,
		ConnID:   req.ConnID,
		Avatar:   cleanAvatar(req.Avatar),
		IsHost:   req.Identity != uuid.Nil && req.Identity == r.HostID,
		sink:     sink,
	}
	m.DisplayName = cleanDisplayName(req.DisplayName, m.PlayerID)
	r.nextPlayerID++
	r.members = append(r.members, m)
	r.playerCount++
	r.publish()

	mv := m.view()
	info := r.Info()
	sink.Send(Event{Type: EventJoinSuccess, Payload: joinSuccessPayload{Code: r.Code, PlayerID: m.PlayerID, Room: info}})
	r.broadcast(Event{Type: EventPlayerJoined, Payload: playerJoinedPayload{Player: mv, Room: info}})
	r.record(EventPlayerJoined, mv)

	r.logger.WithFields(logrus.Fields{
		"player":   m.PlayerID,
		"identity": m.Identity,
		"count":    r.playerCount,
	}).Info("player joined")
	return mv, nil
}

func (r *Room) ready(playerID int) {
	m, _ := r.member(playerID)
	if m == nil || r.status != StatusWaiting || m.IsReady {
		return
	}
	m.IsReady = true

	readyCount := 0
	for _, o := range r.members {
		if o.IsReady {
			readyCount++
		}
	}
	payload := playerReadyPayload{
		PlayerID:   playerID,
		ReadyCount: readyCount,
		Total:      r.playerCount,
		AllReady:   readyCount == r.playerCount,
	}
	r.broadcast(Event{Type: EventPlayerReady, Payload: payload})
	r.record(EventPlayerReady, payload)

	if r.readyGate() {
		r.startGame()
	}
}

// readyGate holds when at least two members are present and all of them are ready.
func (r *Room) readyGate() bool {
	if r.status != StatusWaiting || r.playerCount < 2 {
		return false
	}
	for _, m := range r.members {
		if !m.IsReady {
			return false
		}
	}
	return true
}

func (r *Room) startGame() {
	questions := r.loadQuestions()

	r.questions = questions
	r.status = StatusPlaying
	r.cursor = -1
	for _, m := range r.members {
		m.CurrentAnswer = nil
		m.LatencySeconds = nil
	}

	payload := gameStartedPayload{TotalQuestions: len(questions), SecondsPerQuestion: r.Settings.SecondsPerQuestion}
	r.broadcast(Event{Type: EventGameStarted, Payload: payload})
	r.record(EventGameStarted, payload)
	r.logger.WithFields(logrus.Fields{
		"players":   r.playerCount,
		"questions": len(questions),
	}).Info("game started")

	r.advanceToQuestion(0)
}

// loadQuestions never returns an empty set: filtered, then language-only, then
// the built-in placeholders.
func (r *Room) loadQuestions() []models.Question {
	want := r.Settings.QuestionsPerRound
	filter := r.Settings.filter()

	fetch := func(f content.Filter) []models.Question {
		ctx, cancel := context.WithTimeout(context.Background(), r.deps.Timings.ContentTimeout)
		defer cancel()
		qs, err := r.deps.Content.FetchQuestions(ctx, f, want)
		if err != nil {
			r.logger.WithError(err).WithField("filter", f).Warn("question fetch failed")
			return nil
		}
		return usable(qs, want)
	}

	if qs := fetch(filter); len(qs) > 0 {
		return qs
	}
	if qs := fetch(filter.Unfiltered()); len(qs) > 0 {
		return qs
	}
	r.logger.Warn("no questions available, using placeholders")
	return usable(content.Placeholder(r.Settings.Language), want)
}

// usable drops malformed questions and caps the set at n.
func usable(qs []models.Question, n int) []models.Question {
	out := make([]models.Question, 0, len(qs))
	for _, q := range qs {
		if len(q.Options) == 0 || q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out
}

func (r *Room) advanceToQuestion(i int) {
	if r.status != StatusPlaying || i <= r.cursor {
		return
	}
	if i >= len(r.questions) {
		r.endGame()
		return
	}
	r.cursor = i
	r.phase = phaseAnswering
	for _, m := range r.members {
		m.CurrentAnswer = nil
		m.LatencySeconds = nil
	}

	q := r.questions[i]
	r.broadcast(Event{Type: EventNewQuestion, Payload: newQuestionPayload{
		Index:  i,
		Number: i + 1,
		Total:  len(r.questions),
		Question: QuestionView{
			Text:       q.Text,
			Options:    q.Options,
			Category:   q.Category,
			Difficulty: q.Difficulty,
		},
		TimeLimit: r.Settings.SecondsPerQuestion,
	}})
	r.arm(timerDeadline, i, r.questionDuration()+r.deps.Timings.DeadlineGrace)
}

func (r *Room) submitAnswer(playerID, questionIndex, option int, timeRemaining float64) {
	drop := func(why string) {
		r.logger.WithFields(logrus.Fields{
			"player": playerID,
			"index":  questionIndex,
			"reason": why,
		}).Debug("answer dropped")
	}
	if r.status != StatusPlaying || r.phase != phaseAnswering {
		drop("not accepting answers")
		return
	}
	if questionIndex != r.cursor {
		drop("stale question")
		return
	}
	m, _ := r.member(playerID)
	if m == nil {
		drop("unknown player")
		return
	}
	if option < 0 || option >= len(r.questions[r.cursor].Options) {
		drop("option out of range")
		return
	}
	if m.CurrentAnswer != nil {
		drop("already answered")
		return
	}

	secs := float64(r.Settings.SecondsPerQuestion)
	if math.IsNaN(timeRemaining) {
		timeRemaining = 0
	}
	latency := math.Min(math.Max(secs-timeRemaining, 0), secs)
	choice := option
	m.CurrentAnswer = &choice
	m.LatencySeconds = &latency

	answered := r.answeredCount()
	progress := answerProgressPayload{AnsweredCount: answered, Total: r.playerCount}
	r.broadcast(Event{Type: EventAnswerProgress, Payload: progress})
	r.record("answer", map[string]any{"playerId": playerID, "index": questionIndex, "option": option, "latency": latency})

	if answered == r.playerCount {
		r.cancelTimer()
		r.showResults(r.cursor)
	}
}

func (r *Room) answeredCount() int {
	n := 0
	for _, m := range r.members {
		if m.CurrentAnswer != nil {
			n++
		}
	}
	return n
}

// showResults scores question i. It does nothing unless question i is the one
// currently being answered, so a deadline racing the last answer scores once.
func (r *Room) showResults(i int) {
	if r.status != StatusPlaying || i != r.cursor || r.phase != phaseAnswering {
		return
	}
	r.cancelTimer()
	r.phase = phaseReviewing

	q := r.questions[i]
	results := make([]AnswerResult, 0, len(r.members))
	for _, m := range r.members {
		res := AnswerResult{PlayerID: m.PlayerID, DisplayName: m.DisplayName, SelectedOption: m.CurrentAnswer}
		if m.CurrentAnswer != nil {
			res.IsCorrect = *m.CurrentAnswer == q.CorrectIndex
			res.Latency = *m.LatencySeconds
			res.Points = scoring.Points(res.IsCorrect, *m.LatencySeconds, r.Settings.SecondsPerQuestion)
			m.Score += res.Points
			if res.IsCorrect {
				m.CorrectCount++
			}
		}
		res.TotalScore = m.Score
		results = append(results, res)
	}

	payload := questionResultsPayload{
		Index:        i,
		CorrectIndex: q.CorrectIndex,
		Results:      results,
		Leaderboard:  scoring.Rank(r.standings(), i+1),
	}
	r.broadcast(Event{Type: EventQuestionResults, Payload: payload})
	r.record(EventQuestionResults, payload)

	r.arm(timerResults, i, r.deps.Timings.ResultsDelay)
}

func (r *Room) standings() []scoring.Standing {
	out := make([]scoring.Standing, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, scoring.Standing{
			PlayerID:     m.PlayerID,
			Identity:     identityRef(m.Identity),
			DisplayName:  m.DisplayName,
			Avatar:       m.Avatar,
			Score:        m.Score,
			CorrectCount: m.CorrectCount,
		})
	}
	return out
}

func (r *Room) endGame() {
	r.cancelTimer()
	r.status = StatusFinished
	r.cursor = len(r.questions)
	total := len(r.questions)

	final := scoring.Rank(r.standings(), total)
	stats := AggregateStats{TotalPlayers: len(final)}
	sum := 0
	for _, s := range final {
		sum += s.Score
		if s.Score > stats.HighestScore {
			stats.HighestScore = s.Score
		}
	}
	if len(final) > 0 {
		stats.AverageScore = int(math.Round(float64(sum) / float64(len(final))))
	}
	payload := gameEndedPayload{FinalResults: final, TotalQuestions: total, AggregateStats: stats}
	if len(final) > 0 {
		winner := final[0]
		payload.Winner = &winner
	}
	r.broadcast(Event{Type: EventGameEnded, Payload: payload})
	r.record(EventGameEnded, payload)
	r.logger.WithFields(logrus.Fields{
		"players": stats.TotalPlayers,
		"highest": stats.HighestScore,
	}).Info("game ended")

	r.persistOutcomes(final, total)
	r.arm(timerCleanup, 0, r.deps.Timings.CleanupDelay)
}

func (r *Room) persistOutcomes(final []scoring.Standing, total int) {
	if r.deps.Outcomes == nil {
		return
	}
	now := time.Now()
	var outs []outcome.Outcome
	for _, s := range final {
		if s.Identity == nil {
			continue
		}
		outs = append(outs, outcome.Outcome{
			Identity:       *s.Identity,
			RoomCode:       r.Code,
			Score:          s.Score,
			CorrectCount:   s.CorrectCount,
			TotalQuestions: total,
			CategoryID:     r.Settings.CategoryID,
			Language:       r.Settings.Language,
			Difficulty:     r.Settings.Difficulty,
			Rank:           s.Rank,
			PlayedAt:       now,
		})
	}
	if len(outs) == 0 {
		return
	}
	r.deps.Outcomes.PersistAsync(outs)
}

func (r *Room) leave(playerID int) {
	m, idx := r.member(playerID)
	if m == nil {
		return
	}
	r.members = append(r.members[:idx:idx], r.members[idx+1:]...)
	r.playerCount--
	r.logger.WithFields(logrus.Fields{
		"player": playerID,
		"count":  r.playerCount,
	}).Info("player left")

	payload := playerLeftPayload{
		Identity:    identityRef(m.Identity),
		PlayerID:    m.PlayerID,
		DisplayName: m.DisplayName,
		NewCount:    r.playerCount,
	}
	r.record(EventPlayerLeft, payload)

	switch {
	case m.IsHost:
		r.destroy(ReasonHostLeft)
		return
	case r.playerCount <= 1:
		r.destroy(ReasonNotEnoughPlayers)
		return
	}

	r.broadcast(Event{Type: EventPlayerLeft, Payload: payload})
	switch r.status {
	case StatusPlaying:
		if r.phase == phaseAnswering && r.answeredCount() == r.playerCount {
			r.showResults(r.cursor)
		}
	case StatusWaiting:
		if r.readyGate() {
			r.startGame()
		}
	}
}

func (r *Room) chat(playerID int, text string) error {
	m, _ := r.member(playerID)
	if m == nil {
		return reject(ErrNotInRoom, "You are not in this room")
	}
	// text is relayed as sent; blank messages are rejected
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > MaxChatLength {
		err := reject(ErrInvalidChat, "Message must be between 1 and 300 characters")
		m.sink.Send(ErrorEvent(err.Error()))
		return err
	}
	r.broadcast(Event{Type: EventChat, Payload: ChatEvent{
		PlayerID:  m.PlayerID,
		Sender:    m.DisplayName,
		Avatar:    m.Avatar,
		Text:      text,
		Timestamp: time.Now(),
	}})
	return nil
}

// destroy tears the room down in one step: timer, members, registry entry and
// every connection binding pointing at it.
func (r *Room) destroy(reason string) {
	if r.closed {
		return
	}
	r.closed = true
	r.cancelTimer()

	r.broadcast(Event{Type: EventRoomClosed, Payload: roomClosedPayload{Reason: reason}})
	r.record(EventRoomClosed, roomClosedPayload{Reason: reason})
	r.members = nil
	r.playerCount = 0
	r.publish()

	entry := r.logger.WithField("reason", reason)
	if reason == ReasonInternalError {
		entry.Error("room destroyed")
	} else {
		entry.Info("room destroyed")
	}
	if r.removed != nil {
		r.removed(r)
	}
}
