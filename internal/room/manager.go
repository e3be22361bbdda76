// internal/room/manager.go
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type binding struct {
	code     string
	playerID int
	pending  bool
}

// Manager maps transport connections to room seats. Explicit leaves and
// disconnects go through the same Leave path.
type Manager struct {
	reg    *Registry
	logger *logrus.Logger

	mu       sync.Mutex
	bindings map[uuid.UUID]binding
}

// NewManager returns a manager bound to reg. Bindings of rooms destroyed in reg
// are dropped automatically.
func NewManager(reg *Registry, logger *logrus.Logger) *Manager {
	m := &Manager{
		reg:      reg,
		logger:   logger,
		bindings: make(map[uuid.UUID]binding),
	}
	reg.OnDestroy(m.forgetRoom)
	return m
}

// Registry returns the registry the manager resolves codes against.
func (m *Manager) Registry() *Registry { return m.reg }

// Join seats connID in the room named by code.
func (m *Manager) Join(ctx context.Context, connID uuid.UUID, code string, req JoinRequest, sink Sink) (MemberView, error) {
	r, ok := m.reg.Get(code)
	if !ok {
		return MemberView{}, reject(ErrRoomNotFound, "Room not found")
	}

	m.mu.Lock()
	if _, bound := m.bindings[connID]; bound {
		m.mu.Unlock()
		return MemberView{}, reject(ErrAlreadyJoined, "You already joined a room")
	}
	m.bindings[connID] = binding{code: r.Code, pending: true}
	m.mu.Unlock()

	req.ConnID = connID
	mv, err := r.Join(ctx, req, sink)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.bindings, connID)
		return MemberView{}, err
	}
	if _, still := m.bindings[connID]; !still {
		// The room was destroyed between the seat being taken and now.
		return MemberView{}, ErrRoomClosed
	}
	m.bindings[connID] = binding{code: r.Code, playerID: mv.PlayerID}
	return mv, nil
}

// Leave vacates the seat held by connID, if any.
func (m *Manager) Leave(ctx context.Context, connID uuid.UUID) {
	m.mu.Lock()
	b, ok := m.bindings[connID]
	if ok && !b.pending {
		delete(m.bindings, connID)
	}
	m.mu.Unlock()
	if !ok || b.pending {
		return
	}

	r, found := m.reg.Get(b.code)
	if !found {
		return
	}
	if err := r.Leave(ctx, b.playerID); err != nil && !errors.Is(err, ErrRoomClosed) {
		m.logger.WithFields(logrus.Fields{"room": b.code, "conn": connID}).WithError(err).Warn("leave failed")
	}
}

// Disconnect is Leave for a connection the transport lost.
func (m *Manager) Disconnect(connID uuid.UUID) {
	m.Leave(context.Background(), connID)
}

// Ready marks the member behind connID ready. Unbound connections are ignored.
func (m *Manager) Ready(ctx context.Context, connID uuid.UUID) {
	r, b, ok := m.resolve(connID)
	if !ok {
		return
	}
	_ = r.Ready(ctx, b.playerID)
}

// Answer forwards an answer. Unbound connections are ignored.
func (m *Manager) Answer(ctx context.Context, connID uuid.UUID, questionIndex, option int, timeRemaining float64) {
	r, b, ok := m.resolve(connID)
	if !ok {
		return
	}
	_ = r.SubmitAnswer(ctx, b.playerID, questionIndex, option, timeRemaining)
}

// Chat relays text from connID's member.
func (m *Manager) Chat(ctx context.Context, connID uuid.UUID, text string) error {
	r, b, ok := m.resolve(connID)
	if !ok {
		return reject(ErrNotInRoom, "You are not in a room")
	}
	return r.Chat(ctx, b.playerID, text)
}

// RoomOf returns the code of the room connID is seated in.
func (m *Manager) RoomOf(connID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[connID]
	if !ok || b.pending {
		return "", false
	}
	return b.code, true
}

func (m *Manager) resolve(connID uuid.UUID) (*Room, binding, bool) {
	m.mu.Lock()
	b, ok := m.bindings[connID]
	m.mu.Unlock()
	if !ok || b.pending {
		return nil, b, false
	}
	r, found := m.reg.Get(b.code)
	if !found {
		m.mu.Lock()
		if cur, still := m.bindings[connID]; still && cur == b {
			delete(m.bindings, connID)
		}
		m.mu.Unlock()
		return nil, b, false
	}
	return r, b, true
}

func (m *Manager) forgetRoom(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for conn, b := range m.bindings {
		if b.code == code {
			delete(m.bindings, conn)
			n++
		}
	}
	if n > 0 {
		m.logger.WithFields(logrus.Fields{"room": code, "bindings": n}).Debug("room bindings released")
	}
}
