// internal/room/registry.go
package room

import (
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/outcome"
	"github.com/sirupsen/logrus"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength     = 4
	maxCodeRetries = 64
	maxPublicRooms = 20
)

// Timings control the question flow. Zero fields take their defaults.
type Timings struct {
	DeadlineGrace  time.Duration // added to every question's time limit
	ResultsDelay   time.Duration // pause between results and the next question
	CleanupDelay   time.Duration // finished room lifetime
	ContentTimeout time.Duration // question fetch budget at game start
	IdleTimeout    time.Duration // lifetime of a room nobody ever joined
	MailboxSize    int

	// second is the length of one "second" of question time. Only tests change it.
	second time.Duration
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		DeadlineGrace:  2 * time.Second,
		ResultsDelay:   5 * time.Second,
		CleanupDelay:   30 * time.Second,
		ContentTimeout: 5 * time.Second,
		IdleTimeout:    2 * time.Minute,
		MailboxSize:    64,
		second:         time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.DeadlineGrace <= 0 {
		t.DeadlineGrace = d.DeadlineGrace
	}
	if t.ResultsDelay <= 0 {
		t.ResultsDelay = d.ResultsDelay
	}
	if t.CleanupDelay <= 0 {
		t.CleanupDelay = d.CleanupDelay
	}
	if t.ContentTimeout <= 0 {
		t.ContentTimeout = d.ContentTimeout
	}
	if t.IdleTimeout <= 0 {
		t.IdleTimeout = d.IdleTimeout
	}
	if t.MailboxSize <= 0 {
		t.MailboxSize = d.MailboxSize
	}
	if t.second <= 0 {
		t.second = d.second
	}
	return t
}

// Deps are the collaborators shared by every room.
type Deps struct {
	Content        content.Source
	Outcomes       *outcome.Persister
	Journal        Journal
	VerifyPassword func(password, hash string) bool
	Timings        Timings
}

// Summary is a row in the public room list.
type Summary struct {
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	PlayerCount        int       `json:"currentPlayers"`
	Capacity           int       `json:"maxPlayers"`
	Difficulty         string    `json:"difficulty"`
	Language           string    `json:"language"`
	QuestionsPerRound  int       `json:"questionCount"`
	SecondsPerQuestion int       `json:"timePerQuestion"`
	HasPassword        bool      `json:"hasPassword"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Registry owns every live room, keyed by code.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	hooks []func(code string)

	deps    Deps
	logger  *logrus.Logger
	newCode func() string
}

// NewRegistry returns an empty registry. Rooms it creates share deps.
func NewRegistry(deps Deps, logger *logrus.Logger) *Registry {
	deps.Timings = deps.Timings.withDefaults()
	if deps.Content == nil {
		deps.Content = content.NewStatic()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		deps:    deps,
		logger:  logger,
		newCode: randomCode,
	}
}

// OnDestroy registers fn to run after a room removed itself. Hooks run on the
// destroyed room's goroutine.
func (reg *Registry) OnDestroy(fn func(code string)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.hooks = append(reg.hooks, fn)
}

// Create validates settings, allocates a code and starts the room.
func (reg *Registry) Create(settings Settings, host uuid.UUID) (*Room, error) {
	if host == uuid.Nil {
		return nil, reject(ErrHostRequired, "You must be logged in to create a room")
	}
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	reg.mu.Lock()
	code := ""
	for i := 0; i < maxCodeRetries; i++ {
		c := reg.newCode()
		if _, taken := reg.rooms[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		reg.mu.Unlock()
		reg.logger.Error("room code space exhausted")
		return nil, ErrCodeSpaceExhausted
	}
	r := newRoom(code, host, settings, reg.deps, reg.logger, reg.removed)
	reg.rooms[code] = r
	reg.mu.Unlock()

	go r.run()
	reg.logger.WithFields(logrus.Fields{"room": code, "host": host}).Info("room created")
	return r, nil
}

// Get looks a room up by code, case-insensitively.
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Delete drops the entry for code without touching the room itself.
func (reg *Registry) Delete(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, code)
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Public lists joinable public rooms, newest first.
func (reg *Registry) Public() []Summary {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	list := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		info := r.Info()
		if info.IsPrivate || info.Status != StatusWaiting {
			continue
		}
		list = append(list, Summary{
			Code:               info.Code,
			Name:               info.Name,
			PlayerCount:        info.PlayerCount,
			Capacity:           info.Capacity,
			Difficulty:         info.Difficulty,
			Language:           info.Language,
			QuestionsPerRound:  info.QuestionsPerRound,
			SecondsPerQuestion: info.SecondsPerQuestion,
			HasPassword:        info.HasPassword,
			CreatedAt:          info.CreatedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if len(list) > maxPublicRooms {
		list = list[:maxPublicRooms]
	}
	return list
}

// Shutdown closes every room and waits for their goroutines to exit.
func (reg *Registry) Shutdown() {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	for _, r := range rooms {
		r.Close(ReasonShutdown)
	}
	for _, r := range rooms {
		<-r.Done()
	}
}

// removed is called by a room's goroutine once it is destroyed.
func (reg *Registry) removed(r *Room) {
	reg.mu.Lock()
	if cur, ok := reg.rooms[r.Code]; ok && cur == r {
		delete(reg.rooms, r.Code)
	}
	hooks := append([]func(string){}, reg.hooks...)
	reg.mu.Unlock()

	for _, fn := range hooks {
		fn(r.Code)
	}
}

func randomCode() string {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}
