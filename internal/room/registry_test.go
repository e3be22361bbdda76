package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRetriesOnCollision(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	codes := []string{"AAAA", "AAAA", "BBBB"}
	reg.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	first, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)
	second, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, "AAAA", first.Code)
	assert.Equal(t, "BBBB", second.Code)
	assert.Equal(t, 2, reg.Len())
}

func TestCreateGivesUpWhenCodesRunOut(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	reg.newCode = func() string { return "ZZZZ" }

	_, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)
	_, err = reg.Create(Settings{}, uuid.New())
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestRandomCodeShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := randomCode()
		require.Len(t, code, 4)
		for _, c := range code {
			assert.Contains(t, codeAlphabet, string(c))
		}
	}
}

func TestCreateValidatesSettings(t *testing.T) {
	reg := newTestRegistry(t, Deps{})

	_, err := reg.Create(Settings{}, uuid.Nil)
	assert.ErrorIs(t, err, ErrHostRequired)

	bad := []Settings{
		{Capacity: 1},
		{Capacity: 13},
		{QuestionsPerRound: 51},
		{SecondsPerQuestion: 4},
		{SecondsPerQuestion: 121},
		{Difficulty: "brutal"},
		{Language: "it"},
	}
	for _, s := range bad {
		_, err := reg.Create(s, uuid.New())
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "%+v", s)
		assert.ErrorIs(t, err, ErrInvalidSettings)
	}
	assert.Zero(t, reg.Len())

	r, err := reg.Create(Settings{Language: "FR"}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "fr", r.Settings.Language)
	assert.Equal(t, DefaultCapacity, r.Settings.Capacity)
	assert.Equal(t, DefaultQuestions, r.Settings.QuestionsPerRound)
	assert.Equal(t, DefaultSecondsPerQuestion, r.Settings.SecondsPerQuestion)
	assert.Equal(t, "mixed", r.Settings.Difficulty)
}

func TestGetIsCaseInsensitive(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	reg.newCode = func() string { return "AB12" }
	_, err := reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)

	_, ok := reg.Get(" ab12 ")
	assert.True(t, ok)
	_, ok = reg.Get("XXXX")
	assert.False(t, ok)
}

func TestPublicListsOnlyJoinableRooms(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	mgr := NewManager(reg, quietLogger())

	open, err := reg.Create(Settings{Name: "Open"}, uuid.New())
	require.NoError(t, err)
	_, err = reg.Create(Settings{Name: "Hidden", IsPrivate: true}, uuid.New())
	require.NoError(t, err)

	hostID := uuid.New()
	busy, err := reg.Create(Settings{Name: "Busy"}, hostID)
	require.NoError(t, err)
	host := joinPlayer(t, mgr, busy.Code, hostID, "Host")
	guest := joinPlayer(t, mgr, busy.Code, uuid.Nil, "Guest")
	startGame(t, mgr, host, guest)
	flush(t, busy)

	time.Sleep(time.Millisecond)
	newest, err := reg.Create(Settings{Name: "Newest"}, uuid.New())
	require.NoError(t, err)

	list := reg.Public()
	require.Len(t, list, 2)
	assert.Equal(t, newest.Code, list[0].Code)
	assert.Equal(t, open.Code, list[1].Code)
}

func TestShutdownClosesEveryRoom(t *testing.T) {
	reg := NewRegistry(Deps{Content: quizSource(), Timings: fastTimings()}, quietLogger())
	mgr := NewManager(reg, quietLogger())

	hostID := uuid.New()
	r, err := reg.Create(Settings{}, hostID)
	require.NoError(t, err)
	host := joinPlayer(t, mgr, r.Code, hostID, "Host")
	_, err = reg.Create(Settings{}, uuid.New())
	require.NoError(t, err)

	var mu sync.Mutex
	var destroyed []string
	reg.OnDestroy(func(code string) {
		mu.Lock()
		defer mu.Unlock()
		destroyed = append(destroyed, code)
	})

	reg.Shutdown()

	assert.Zero(t, reg.Len())
	assert.Len(t, destroyed, 2)
	closed := payloadOf[roomClosedPayload](t, host.sink.ofType(EventRoomClosed)[0])
	assert.Equal(t, ReasonShutdown, closed.Reason)
	assert.ErrorIs(t, r.Chat(context.Background(), host.id, "hi"), ErrRoomClosed)
}
