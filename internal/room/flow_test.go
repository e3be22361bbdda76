package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/jason-s-yu/trivia/internal/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeStore struct {
	mu       sync.Mutex
	outcomes []outcome.Outcome
}

func (s *outcomeStore) RecordOutcome(_ context.Context, o outcome.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *outcomeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

type failingSource struct{}

func (failingSource) FetchQuestions(context.Context, content.Filter, int) ([]models.Question, error) {
	return nil, errors.New("database is down")
}

// flush waits until everything queued before it has been processed.
func flush(t *testing.T, r *Room) {
	t.Helper()
	require.NoError(t, r.call(context.Background(), func() error { return nil }))
}

func startGame(t *testing.T, mgr *Manager, players ...*player) {
	t.Helper()
	ctx := context.Background()
	for _, p := range players {
		mgr.Ready(ctx, p.conn)
	}
	players[0].sink.waitFor(t, EventNewQuestion, 1)
}

func TestEndToEndTwoQuestionGame(t *testing.T) {
	store := &outcomeStore{}
	reg := newTestRegistry(t, Deps{Outcomes: outcome.NewPersister(store, quietLogger(), time.Second)})
	reg.newCode = func() string { return "ABCD" }
	mgr := NewManager(reg, quietLogger())
	ctx := context.Background()

	aliceID, bobID := uuid.New(), uuid.New()
	r, err := reg.Create(Settings{QuestionsPerRound: 2, SecondsPerQuestion: 30}, aliceID)
	require.NoError(t, err)
	require.Equal(t, "ABCD", r.Code)

	alice := joinPlayer(t, mgr, "abcd", aliceID, "Alice")
	bob := joinPlayer(t, mgr, "ABCD", bobID, "Bob")

	mgr.Ready(ctx, alice.conn)
	mgr.Ready(ctx, bob.conn)

	started := payloadOf[gameStartedPayload](t, alice.sink.waitFor(t, EventGameStarted, 1)[0])
	assert.Equal(t, 2, started.TotalQuestions)
	assert.Equal(t, 30, started.SecondsPerQuestion)

	first := payloadOf[newQuestionPayload](t, bob.sink.waitFor(t, EventNewQuestion, 1)[0])
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "Q1", first.Question.Text)

	mgr.Answer(ctx, alice.conn, 0, 0, 25)
	mgr.Answer(ctx, bob.conn, 0, 0, 20)

	results := payloadOf[questionResultsPayload](t, alice.sink.waitFor(t, EventQuestionResults, 1)[0])
	assert.Equal(t, 0, results.CorrectIndex)
	require.Len(t, results.Leaderboard, 2)
	assert.Equal(t, alice.id, results.Leaderboard[0].PlayerID)
	assert.Equal(t, 150, results.Leaderboard[0].Score)
	assert.Equal(t, bob.id, results.Leaderboard[1].PlayerID)
	assert.Equal(t, 140, results.Leaderboard[1].Score)

	second := payloadOf[newQuestionPayload](t, alice.sink.waitFor(t, EventNewQuestion, 2)[1])
	assert.Equal(t, 1, second.Index)

	mgr.Answer(ctx, alice.conn, 1, 1, 25)
	mgr.Answer(ctx, bob.conn, 1, 1, 20)

	ended := payloadOf[gameEndedPayload](t, bob.sink.waitFor(t, EventGameEnded, 1)[0])
	require.NotNil(t, ended.Winner)
	assert.Equal(t, alice.id, ended.Winner.PlayerID)
	assert.Equal(t, 300, ended.Winner.Score)
	assert.Equal(t, 2, ended.TotalQuestions)
	assert.Equal(t, AggregateStats{TotalPlayers: 2, AverageScore: 290, HighestScore: 300}, ended.AggregateStats)
	assert.Equal(t, 100, ended.FinalResults[1].Accuracy)

	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ABCD", store.outcomes[0].RoomCode)

	closed := payloadOf[roomClosedPayload](t, alice.sink.waitFor(t, EventRoomClosed, 1)[0])
	assert.Equal(t, ReasonFinished, closed.Reason)
	<-r.Done()
	assert.Zero(t, reg.Len())
	_, bound := mgr.RoomOf(alice.conn)
	assert.False(t, bound)
}

func TestReadyGateNeedsTwoPlayers(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	mgr := NewManager(reg, quietLogger())
	ctx := context.Background()

	hostID := uuid.New()
	r, err := reg.Create(Settings{}, hostID)
	require.NoError(t, err)
	host := joinPlayer(t, mgr, r.Code, hostID, "Host")

	mgr.Ready(ctx, host.conn)
	flush(t, r)
	assert.Equal(t, StatusWaiting, r.Info().Status)
	assert.Empty(t, host.sink.ofType(EventGameStarted))

	guest := joinPlayer(t, mgr, r.Code, uuid.Nil, "")
	flush(t, r)
	assert.Equal(t, StatusWaiting, r.Info().Status, "a new unready player blocks the start")

	mgr.Ready(ctx, guest.conn)
	guest.sink.waitFor(t, EventGameStarted, 1)
	flush(t, r)
	assert.Equal(t, StatusPlaying, r.Info().Status)

	ready := guest.sink.ofType(EventPlayerReady)
	last := payloadOf[playerReadyPayload](t, ready[len(ready)-1])
	assert.Equal(t, playerReadyPayload{PlayerID: guest.id, ReadyCount: 2, Total: 2, AllReady: true}, last)

	joined := payloadOf[joinSuccessPayload](t, guest.sink.ofType(EventJoinSuccess)[0])
	assert.Equal(t, "Player 2", joined.Room.Players[1].DisplayName)
}

func TestSecondAnswerIsIgnored(t *testing.T) {
	_, mgr, r, host, guest := setup(t, Deps{}, Settings{})
	ctx := context.Background()
	startGame(t, mgr, host, guest)

	mgr.Answer(ctx, host.conn, 0, 1, 20)
	mgr.Answer(ctx, host.conn, 0, 0, 29)
	mgr.Answer(ctx, guest.conn, 3, 0, 29) // stale index
	mgr.Answer(ctx, guest.conn, 0, 7, 29) // no such option
	flush(t, r)

	var answer *int
	var latency float64
	require.NoError(t, r.call(ctx, func() error {
		m, _ := r.member(host.id)
		answer, latency = m.CurrentAnswer, *m.LatencySeconds
		return nil
	}))
	require.NotNil(t, answer)
	assert.Equal(t, 1, *answer)
	assert.Equal(t, 10.0, latency)
	assert.Len(t, host.sink.ofType(EventAnswerProgress), 1)
	assert.Empty(t, host.sink.ofType(EventQuestionResults))
}

func TestShowResultsIsIdempotentAndCursorOnlyMovesForward(t *testing.T) {
	timings := fastTimings()
	timings.ResultsDelay = time.Minute
	_, mgr, r, host, guest := setup(t, Deps{Timings: timings}, Settings{})
	ctx := context.Background()
	startGame(t, mgr, host, guest)

	mgr.Answer(ctx, host.conn, 0, 0, 30)
	require.NoError(t, r.call(ctx, func() error {
		r.showResults(0)
		r.showResults(0)
		return nil
	}))
	require.NoError(t, r.call(ctx, func() error {
		r.advanceToQuestion(0)
		r.showResults(0)
		return nil
	}))

	assert.Len(t, host.sink.ofType(EventQuestionResults), 1)
	assert.Len(t, host.sink.ofType(EventNewQuestion), 1)
	require.NoError(t, r.call(ctx, func() error {
		m, _ := r.member(host.id)
		assert.Equal(t, 160, m.Score)
		assert.Equal(t, 1, m.CorrectCount)
		assert.Equal(t, 0, r.cursor)
		return nil
	}))
}

func TestDeadlineScoresMissingAnswersAsZero(t *testing.T) {
	timings := fastTimings()
	timings.second = 10 * time.Millisecond
	_, mgr, _, host, guest := setup(t, Deps{Timings: timings}, Settings{SecondsPerQuestion: 5, QuestionsPerRound: 1})
	ctx := context.Background()
	startGame(t, mgr, host, guest)

	mgr.Answer(ctx, host.conn, 0, 0, 4)

	res := payloadOf[questionResultsPayload](t, guest.sink.waitFor(t, EventQuestionResults, 1)[0])
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].IsCorrect)
	assert.Equal(t, 108, res.Results[0].Points)
	assert.Nil(t, res.Results[1].SelectedOption)
	assert.Zero(t, res.Results[1].Points)

	guest.sink.waitFor(t, EventGameEnded, 1)
}

func TestHostLeavingDestroysRoomMidGame(t *testing.T) {
	reg, mgr, r, host, guest := setup(t, Deps{}, Settings{})
	third := joinPlayer(t, mgr, r.Code, uuid.Nil, "Third")
	ctx := context.Background()
	startGame(t, mgr, host, guest, third)
	mgr.Answer(ctx, guest.conn, 0, 0, 20)

	mgr.Leave(ctx, host.conn)

	for _, p := range []*player{guest, third} {
		closed := payloadOf[roomClosedPayload](t, p.sink.waitFor(t, EventRoomClosed, 1)[0])
		assert.Equal(t, ReasonHostLeft, closed.Reason)
		_, bound := mgr.RoomOf(p.conn)
		assert.False(t, bound)
	}
	<-r.Done()
	assert.Zero(t, reg.Len())
	assert.ErrorIs(t, r.Ready(ctx, guest.id), ErrRoomClosed)
}

func TestLeaveDownToOnePlayerClosesRoom(t *testing.T) {
	_, mgr, r, host, guest := setup(t, Deps{}, Settings{})
	ctx := context.Background()

	mgr.Leave(ctx, guest.conn)
	mgr.Leave(ctx, guest.conn)

	closed := payloadOf[roomClosedPayload](t, host.sink.waitFor(t, EventRoomClosed, 1)[0])
	assert.Equal(t, ReasonNotEnoughPlayers, closed.Reason)
	<-r.Done()
}

func TestLeaveCanCompleteReadyGate(t *testing.T) {
	_, mgr, r, host, guest := setup(t, Deps{}, Settings{})
	slow := joinPlayer(t, mgr, r.Code, uuid.Nil, "Slow")
	ctx := context.Background()

	mgr.Ready(ctx, host.conn)
	mgr.Ready(ctx, guest.conn)
	flush(t, r)
	assert.Equal(t, StatusWaiting, r.Info().Status)

	mgr.Leave(ctx, slow.conn)

	left := payloadOf[playerLeftPayload](t, host.sink.waitFor(t, EventPlayerLeft, 1)[0])
	assert.Equal(t, 2, left.NewCount)
	assert.Nil(t, left.Identity)
	host.sink.waitFor(t, EventGameStarted, 1)
}

func TestLeaveCanCompleteAnswerRound(t *testing.T) {
	_, mgr, r, host, guest := setup(t, Deps{}, Settings{})
	slow := joinPlayer(t, mgr, r.Code, uuid.Nil, "Slow")
	ctx := context.Background()
	startGame(t, mgr, host, guest, slow)

	mgr.Answer(ctx, host.conn, 0, 0, 30)
	mgr.Answer(ctx, guest.conn, 0, 1, 30)
	flush(t, r)
	assert.Empty(t, host.sink.ofType(EventQuestionResults))

	mgr.Leave(ctx, slow.conn)
	res := payloadOf[questionResultsPayload](t, host.sink.waitFor(t, EventQuestionResults, 1)[0])
	assert.Len(t, res.Results, 2)
}

func TestChat(t *testing.T) {
	_, mgr, _, host, guest := setup(t, Deps{}, Settings{})
	ctx := context.Background()

	require.NoError(t, mgr.Chat(ctx, guest.conn, "  hello there  "))
	msg := payloadOf[ChatEvent](t, host.sink.waitFor(t, EventChat, 1)[0])
	assert.Equal(t, "  hello there  ", msg.Text, "chat is relayed unmodified")
	assert.Equal(t, "Guest", msg.Sender)

	err := mgr.Chat(ctx, guest.conn, "   ")
	assert.ErrorIs(t, err, ErrInvalidChat)
	guest.sink.waitFor(t, EventError, 1)
	assert.Empty(t, host.sink.ofType(EventError))

	long := strings.Repeat("a", MaxChatLength+1)
	assert.ErrorIs(t, mgr.Chat(ctx, guest.conn, long), ErrInvalidChat)
	assert.Len(t, host.sink.ofType(EventChat), 1)

	assert.ErrorIs(t, mgr.Chat(ctx, uuid.New(), "hi"), ErrNotInRoom)
}

func TestContentFailureFallsBackToPlaceholders(t *testing.T) {
	_, mgr, _, host, guest := setup(t, Deps{Content: failingSource{}}, Settings{Language: "de"})
	startGame(t, mgr, host, guest)

	started := payloadOf[gameStartedPayload](t, host.sink.ofType(EventGameStarted)[0])
	assert.Equal(t, len(content.Placeholder("de")), started.TotalQuestions)
	q := payloadOf[newQuestionPayload](t, host.sink.ofType(EventNewQuestion)[0])
	assert.Equal(t, content.Placeholder("de")[0].Text, q.Question.Text)
}

func TestEmptyFilterFallsBackToUnfiltered(t *testing.T) {
	missing := 99
	_, mgr, _, host, guest := setup(t, Deps{}, Settings{CategoryID: &missing})
	startGame(t, mgr, host, guest)

	started := payloadOf[gameStartedPayload](t, host.sink.ofType(EventGameStarted)[0])
	assert.Equal(t, 3, started.TotalQuestions)
}

func TestInvariantViolationClosesOnlyThatRoom(t *testing.T) {
	reg, mgr, r, host, _ := setup(t, Deps{}, Settings{})
	other, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)
	bystander := joinPlayer(t, mgr, other.Code, uuid.Nil, "Bystander")

	require.NoError(t, r.call(context.Background(), func() error {
		r.playerCount = 99
		return nil
	}))

	closed := payloadOf[roomClosedPayload](t, host.sink.waitFor(t, EventRoomClosed, 1)[0])
	assert.Equal(t, ReasonInternalError, closed.Reason)
	<-r.Done()

	flush(t, other)
	assert.Empty(t, bystander.sink.ofType(EventRoomClosed))
	_, ok := reg.Get(other.Code)
	assert.True(t, ok)
}

func TestPanicInHandlerClosesRoom(t *testing.T) {
	_, _, r, host, guest := setup(t, Deps{}, Settings{})

	require.NoError(t, r.post(context.Background(), func() { panic("boom") }))

	for _, p := range []*player{host, guest} {
		closed := payloadOf[roomClosedPayload](t, p.sink.waitFor(t, EventRoomClosed, 1)[0])
		assert.Equal(t, ReasonInternalError, closed.Reason)
	}
	<-r.Done()
}

func TestPlayerCountTracksMembership(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	mgr := NewManager(reg, quietLogger())
	ctx := context.Background()
	hostID := uuid.New()
	r, err := reg.Create(Settings{Capacity: 6}, hostID)
	require.NoError(t, err)

	players := []*player{joinPlayer(t, mgr, r.Code, hostID, "Host")}
	check := func() {
		flush(t, r)
		info := r.Info()
		assert.Equal(t, len(info.Players), info.PlayerCount)
		assert.Equal(t, len(players), info.PlayerCount)
	}
	for i := 0; i < 5; i++ {
		players = append(players, joinPlayer(t, mgr, r.Code, uuid.Nil, ""))
		check()
	}
	for _, idx := range []int{3, 1, 2} {
		mgr.Leave(ctx, players[idx].conn)
		players = append(players[:idx], players[idx+1:]...)
		check()
	}
	ids := []int{}
	for _, p := range r.Info().Players {
		ids = append(ids, p.PlayerID)
	}
	assert.Equal(t, []int{1, 3, 6}, ids, "remaining members keep join order")
}

func TestUnjoinedRoomExpires(t *testing.T) {
	timings := fastTimings()
	timings.IdleTimeout = 20 * time.Millisecond
	reg := newTestRegistry(t, Deps{Timings: timings})

	r, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)
	<-r.Done()
	assert.Zero(t, reg.Len())
}

func TestLeaderboardOmitsGuestIdentity(t *testing.T) {
	_, mgr, _, host, guest := setup(t, Deps{}, Settings{})
	ctx := context.Background()
	startGame(t, mgr, host, guest)

	mgr.Answer(ctx, host.conn, 0, 0, 20)
	mgr.Answer(ctx, guest.conn, 0, 1, 20)
	results := payloadOf[questionResultsPayload](t, host.sink.waitFor(t, EventQuestionResults, 1)[0])
	require.Len(t, results.Leaderboard, 2)

	for _, s := range results.Leaderboard {
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		if s.PlayerID == guest.id {
			assert.Nil(t, s.Identity)
			assert.NotContains(t, string(raw), "identity")
			continue
		}
		require.NotNil(t, s.Identity)
		assert.Equal(t, host.identity, *s.Identity)
		assert.Contains(t, string(raw), host.identity.String())
	}
}
