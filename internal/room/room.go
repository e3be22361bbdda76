// internal/room/room.go
package room

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle stage of a room. It only moves forward.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type phase int

const (
	phaseAnswering phase = iota
	phaseReviewing
)

// Member is one connection's seat in a room.
type Member struct {
	PlayerID       int
	Identity       uuid.UUID
	ConnID         uuid.UUID
	DisplayName    string
	Avatar         string
	IsHost         bool
	IsReady        bool
	Score          int
	CorrectCount   int
	CurrentAnswer  *int
	LatencySeconds *float64

	sink Sink
}

func (m *Member) view() MemberView {
	return MemberView{
		PlayerID:    m.PlayerID,
		Identity:    identityRef(m.Identity),
		DisplayName: m.DisplayName,
		Avatar:      m.Avatar,
		IsHost:      m.IsHost,
		IsReady:     m.IsReady,
		Score:       m.Score,
	}
}

func identityRef(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// JoinRequest carries everything a connection presents when joining.
type JoinRequest struct {
	ConnID      uuid.UUID
	Identity    uuid.UUID
	DisplayName string
	Avatar      string
	Password    string
}

// Room is a single trivia session. All state below the mailbox is owned by the
// room's goroutine; other goroutines only talk to it through inbox.
type Room struct {
	Code      string
	HostID    uuid.UUID
	Settings  Settings
	CreatedAt time.Time

	deps    Deps
	logger  *logrus.Entry
	inbox   chan func()
	done    chan struct{}
	removed func(*Room)
	view    atomic.Pointer[Info]

	closed       bool
	status       Status
	phase        phase
	members      []*Member
	playerCount  int
	nextPlayerID int
	questions    []models.Question
	cursor       int

	timer    *time.Timer
	timerGen uint64
}

func newRoom(code string, host uuid.UUID, settings Settings, deps Deps, logger *logrus.Logger, removed func(*Room)) *Room {
	r := &Room{
		Code:         code,
		HostID:       host,
		Settings:     settings,
		CreatedAt:    time.Now(),
		deps:         deps,
		logger:       logger.WithField("room", code),
		inbox:        make(chan func(), deps.Timings.MailboxSize),
		done:         make(chan struct{}),
		removed:      removed,
		status:       StatusWaiting,
		nextPlayerID: 1,
	}
	if r.deps.VerifyPassword == nil {
		r.deps.VerifyPassword = auth.VerifyPassword
	}
	r.publish()
	r.arm(timerIdle, 0, deps.Timings.IdleTimeout)
	return r
}

// Done is closed once the room's goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Info returns the snapshot published after the last processed event.
func (r *Room) Info() Info { return *r.view.Load() }

// Join seats a new member. The sink receives join-success before Join returns.
func (r *Room) Join(ctx context.Context, req JoinRequest, sink Sink) (MemberView, error) {
	var mv MemberView
	err := r.call(ctx, func() error {
		var err error
		mv, err = r.join(req, sink)
		return err
	})
	return mv, err
}

// Ready marks a member ready. Unknown players are ignored.
func (r *Room) Ready(ctx context.Context, playerID int) error {
	return r.post(ctx, func() { r.ready(playerID) })
}

// SubmitAnswer records a member's answer for the question at questionIndex.
// Late, duplicate and malformed answers are dropped.
func (r *Room) SubmitAnswer(ctx context.Context, playerID, questionIndex, option int, timeRemaining float64) error {
	return r.post(ctx, func() { r.submitAnswer(playerID, questionIndex, option, timeRemaining) })
}

// Leave removes a member. Leaving twice is harmless.
func (r *Room) Leave(ctx context.Context, playerID int) error {
	return r.call(ctx, func() error {
		r.leave(playerID)
		return nil
	})
}

// Chat relays a message from a member to everyone in the room.
func (r *Room) Chat(ctx context.Context, playerID int, text string) error {
	return r.call(ctx, func() error { return r.chat(playerID, text) })
}

// Close destroys the room from outside, e.g. on shutdown.
func (r *Room) Close(reason string) {
	_ = r.post(context.Background(), func() { r.destroy(reason) })
}

// call runs fn on the room goroutine and waits for its result. ctx only bounds
// the enqueue; once fn is queued call waits until it ran or the room is gone.
func (r *Room) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, func() { reply <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		// fn may have closed the room itself.
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// post enqueues fn without waiting for it to run.
func (r *Room) post(ctx context.Context, fn func()) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- fn:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) run() {
	defer close(r.done)
	for !r.closed {
		fn := <-r.inbox
		r.exec(fn)
	}
	r.logger.Debug("room loop exited")
}

func (r *Room) exec(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithField("panic", p).Error("recovered panic in room loop")
			r.destroy(ReasonInternalError)
		}
	}()
	fn()
	if r.closed {
		return
	}
	if err := r.checkInvariants(); err != nil {
		r.logger.WithError(err).Error("room invariant violated")
		r.destroy(ReasonInternalError)
		return
	}
	r.publish()
}

func (r *Room) checkInvariants() error {
	if r.playerCount != len(r.members) {
		return fmt.Errorf("player count %d does not match %d members", r.playerCount, len(r.members))
	}
	if r.status == StatusPlaying && (r.cursor < 0 || r.cursor >= len(r.questions)) {
		return fmt.Errorf("cursor %d out of range [0,%d)", r.cursor, len(r.questions))
	}
	if r.cursor > len(r.questions) {
		return fmt.Errorf("cursor %d past %d questions", r.cursor, len(r.questions))
	}
	return nil
}

// publish stores a fresh snapshot for readers outside the room goroutine.
func (r *Room) publish() {
	players := make([]MemberView, 0, len(r.members))
	for _, m := range r.members {
		players = append(players, m.view())
	}
	info := Info{
		Code:               r.Code,
		Name:               r.Settings.Name,
		HostID:             r.HostID,
		Status:             r.status,
		Capacity:           r.Settings.Capacity,
		PlayerCount:        r.playerCount,
		CategoryID:         r.Settings.CategoryID,
		Difficulty:         r.Settings.Difficulty,
		QuestionsPerRound:  r.Settings.QuestionsPerRound,
		SecondsPerQuestion: r.Settings.SecondsPerQuestion,
		Language:           r.Settings.Language,
		IsPrivate:          r.Settings.IsPrivate,
		HasPassword:        r.Settings.PasswordHash != "",
		Players:            players,
		CreatedAt:          r.CreatedAt,
	}
	r.view.Store(&info)
}

func (r *Room) member(playerID int) (*Member, int) {
	for i, m := range r.members {
		if m.PlayerID == playerID {
			return m, i
		}
	}
	return nil, -1
}

func (r *Room) broadcast(ev Event) {
	for _, m := range r.members {
		m.sink.Send(ev)
	}
}

func (r *Room) record(eventType string, payload any) {
	if r.deps.Journal != nil {
		r.deps.Journal.Record(r.Code, eventType, payload)
	}
}

type timerKind int

const (
	timerIdle timerKind = iota
	timerDeadline
	timerResults
	timerCleanup
)

func (k timerKind) String() string {
	switch k {
	case timerIdle:
		return "idle"
	case timerDeadline:
		return "deadline"
	case timerResults:
		return "results"
	case timerCleanup:
		return "cleanup"
	}
	return "unknown"
}

// arm replaces the room's pending timer. The callback only enqueues; a fire from a
// replaced timer carries an old generation and is ignored.
func (r *Room) arm(kind timerKind, index int, d time.Duration) {
	r.cancelTimer()
	gen := r.timerGen
	r.timer = time.AfterFunc(d, func() {
		_ = r.post(context.Background(), func() { r.timerFired(gen, kind, index) })
	})
}

func (r *Room) cancelTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) timerFired(gen uint64, kind timerKind, index int) {
	if gen != r.timerGen {
		r.logger.WithFields(logrus.Fields{"timer": kind, "index": index}).Debug("stale timer ignored")
		return
	}
	r.timer = nil
	switch kind {
	case timerIdle:
		if r.playerCount == 0 && r.status == StatusWaiting {
			r.destroy(ReasonExpired)
		}
	case timerDeadline:
		r.showResults(index)
	case timerResults:
		r.advanceToQuestion(index + 1)
	case timerCleanup:
		r.destroy(ReasonFinished)
	}
}

func (r *Room) questionDuration() time.Duration {
	return time.Duration(r.Settings.SecondsPerQuestion) * r.deps.Timings.second
}
