package room

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/content"
	"github.com/jason-s-yu/trivia/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// recordingSink collects every event sent to one member.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ofType(typ string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

// waitFor blocks until n events of typ arrived and returns them.
func (s *recordingSink) waitFor(t *testing.T, typ string, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.ofType(typ)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %q events, have %v", n, typ, s.types())
	return s.ofType(typ)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fastTimings shortens every delay except question time; tests that exercise the
// deadline shrink second themselves.
func fastTimings() Timings {
	return Timings{
		DeadlineGrace:  20 * time.Millisecond,
		ResultsDelay:   10 * time.Millisecond,
		CleanupDelay:   50 * time.Millisecond,
		ContentTimeout: time.Second,
		IdleTimeout:    time.Minute,
		MailboxSize:    64,
		second:         time.Second,
	}
}

func quizSource() *content.Static {
	return content.NewStatic(
		content.StaticQuestion{CategoryID: 1, Question: models.Question{
			ID: 1, Text: "Q1", Options: []string{"A", "B", "C", "D"}, CorrectIndex: 0, Category: "General", Difficulty: "easy",
		}},
		content.StaticQuestion{CategoryID: 1, Question: models.Question{
			ID: 2, Text: "Q2", Options: []string{"A", "B", "C", "D"}, CorrectIndex: 1, Category: "General", Difficulty: "easy",
		}},
		content.StaticQuestion{CategoryID: 2, Question: models.Question{
			ID: 3, Text: "Q3", Options: []string{"A", "B", "C", "D"}, CorrectIndex: 2, Category: "Science", Difficulty: "hard",
		}},
	)
}

func newTestRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	if deps.Content == nil {
		deps.Content = quizSource()
	}
	if deps.Timings == (Timings{}) {
		deps.Timings = fastTimings()
	}
	reg := NewRegistry(deps, quietLogger())
	t.Cleanup(reg.Shutdown)
	return reg
}

type player struct {
	conn     uuid.UUID
	identity uuid.UUID
	id       int
	sink     *recordingSink
}

func joinPlayer(t *testing.T, m *Manager, code string, identity uuid.UUID, name string) *player {
	t.Helper()
	p := &player{conn: uuid.New(), identity: identity, sink: &recordingSink{}}
	mv, err := m.Join(context.Background(), p.conn, code, JoinRequest{Identity: identity, DisplayName: name}, p.sink)
	require.NoError(t, err)
	p.id = mv.PlayerID
	return p
}

// setup creates a room hosted by a registered user and seats the host plus one guest.
func setup(t *testing.T, deps Deps, settings Settings) (*Registry, *Manager, *Room, *player, *player) {
	t.Helper()
	reg := newTestRegistry(t, deps)
	mgr := NewManager(reg, quietLogger())
	hostID := uuid.New()
	r, err := reg.Create(settings, hostID)
	require.NoError(t, err)
	host := joinPlayer(t, mgr, r.Code, hostID, "Host")
	guest := joinPlayer(t, mgr, r.Code, uuid.Nil, "Guest")
	return reg, mgr, r, host, guest
}

func payloadOf[T any](t *testing.T, ev Event) T {
	t.Helper()
	p, ok := ev.Payload.(T)
	require.True(t, ok, "payload of %q is %T", ev.Type, ev.Payload)
	return p
}
