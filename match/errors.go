package match

import "fmt"

// AdmissionError is returned to the requester only; it never reaches other
// room members.
type AdmissionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AdmissionError with the same code.
func (e *AdmissionError) Is(target error) bool {
	t, ok := target.(*AdmissionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(code, message string) *AdmissionError {
	return &AdmissionError{Code: code, Message: message}
}

var (
	ErrRoomFull           = newError("room_full", "the room already has two players")
	ErrUnknownUser        = newError("unknown_user", "no such user")
	ErrInviteNotPermitted = newError("invite_not_permitted", "you can only invite friends who have not blocked you")
	ErrRoomNotFound       = newError("room_not_found", "no live room with that id")
	ErrAlreadyPlaying     = newError("already_playing", "already seated in a live room")
	ErrNoInvite           = newError("no_invite", "no pending invite from that user")
)
