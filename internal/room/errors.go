// internal/room/errors.go
package room

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyStarted     = errors.New("game already started")
	ErrRoomFull           = errors.New("room is full")
	ErrWrongPassword      = errors.New("wrong password")
	ErrAlreadyInRoom      = errors.New("identity already in room")
	ErrAlreadyJoined      = errors.New("connection already joined a room")
	ErrNotInRoom          = errors.New("connection is not in a room")
	ErrRoomClosed         = errors.New("room closed")
	ErrInvalidSettings    = errors.New("invalid room settings")
	ErrCodeSpaceExhausted = errors.New("could not allocate a room code")
	ErrInvalidChat        = errors.New("invalid chat message")
	ErrHostRequired       = errors.New("a registered host is required")
)

// ValidationError is a rejected request. Reason is safe to show to the requester;
// errors.Is matches the wrapped sentinel.
type ValidationError struct {
	Err    error
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

func reject(err error, reason string) error {
	return &ValidationError{Err: err, Reason: reason}
}

// Reason returns the client-facing text for err.
func Reason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrRoomClosed):
		return "Room is closed"
	case errors.Is(err, ErrAlreadyJoined):
		return "You already joined a room"
	case errors.Is(err, ErrNotInRoom):
		return "You are not in a room"
	}
	return "Internal error"
}
