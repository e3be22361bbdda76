// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/trivia/internal/auth"
	"github.com/jason-s-yu/trivia/internal/room"
)

type createRoomRequest struct {
	room.Settings
	Password string `json:"password"`
}

type createRoomResponse struct {
	Code string    `json:"code"`
	Room room.Info `json:"room"`
}

// CreateRoomHandler opens a room hosted by the authenticated caller. The host
// still has to join it over the websocket to take a seat.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	host, ok := s.requestUser(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad room request payload", http.StatusBadRequest)
		return
	}

	settings := req.Settings
	settings.PasswordHash = ""
	if req.Password != "" {
		hash, err := auth.CreateHash(req.Password, auth.RoomParams)
		if err != nil {
			s.Logger.WithError(err).Error("failed to hash room password")
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		settings.PasswordHash = hash
	}

	rm, err := s.Rooms.Registry().Create(settings, host)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrInvalidSettings):
		http.Error(w, room.Reason(err), http.StatusBadRequest)
		return
	case errors.Is(err, room.ErrCodeSpaceExhausted):
		s.Logger.WithError(err).Error("room code space exhausted")
		http.Error(w, "no room codes available, try again later", http.StatusServiceUnavailable)
		return
	default:
		s.Logger.WithError(err).Error("failed to create room")
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{Code: rm.Code, Room: rm.Info()})
}

// ListRoomsHandler returns the public rooms still waiting for players.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := s.Rooms.Registry().Public()
	if rooms == nil {
		rooms = []room.Summary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// RoomInfoHandler returns a room's current snapshot.
func (s *Server) RoomInfoHandler(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.Rooms.Registry().Get(chi.URLParam(r, "code"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}
