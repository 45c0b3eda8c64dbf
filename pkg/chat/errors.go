package chat

import (
	"errors"
	"fmt"

	"supportchat/pkg/models"
	"supportchat/pkg/store"
)

// Error codes surfaced to clients (ws error events and HTTP bodies).
const (
	CodeInvalidTransition = "invalid_transition"
	CodeAlreadyAssigned   = "already_assigned"
	CodeNotAMember        = "not_a_member"
	CodeSessionTerminal   = "session_terminal"
	CodeValidation        = "validation_error"
	CodeNotConnected      = "not_connected"
	CodeUnknownSession    = "unknown_session"
	CodeInternal          = "internal"
)

// InvalidTransitionError reports an illegal state-machine move.
type InvalidTransitionError struct {
	From, To models.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// AlreadyAssignedError is returned to assignment race losers. Admin carries
// the winning admin's identity so the UI can redirect.
type AlreadyAssignedError struct {
	Admin string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("session already assigned to %s", e.Admin)
}

// SessionTerminalError reports a write attempted on a closed or ended session.
type SessionTerminalError struct {
	Status models.SessionStatus
}

func (e *SessionTerminalError) Error() string {
	return fmt.Sprintf("session is %s; no further writes accepted", e.Status)
}

// ValidationError reports malformed input (oversized or empty content).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

var (
	// ErrNotAMember is returned when the sender is not a participant of
	// the session.
	ErrNotAMember = errors.New("participant is not a member of the session")
	// ErrNotConnected reports an unreachable recipient. Non-fatal:
	// delivery is best-effort and messages stay durable in the store.
	ErrNotConnected = errors.New("recipient not connected")
	// ErrUnknownSession is returned for events referencing a session that
	// does not exist.
	ErrUnknownSession = errors.New("unknown session")
)

// CodeOf maps an error from this package to its wire code.
func CodeOf(err error) string {
	var it *InvalidTransitionError
	var aa *AlreadyAssignedError
	var st *SessionTerminalError
	var ve *ValidationError
	switch {
	case errors.As(err, &it):
		return CodeInvalidTransition
	case errors.As(err, &aa):
		return CodeAlreadyAssigned
	case errors.As(err, &st):
		return CodeSessionTerminal
	case errors.As(err, &ve):
		return CodeValidation
	case errors.Is(err, ErrNotAMember):
		return CodeNotAMember
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrUnknownSession), errors.Is(err, store.ErrNotFound):
		return CodeUnknownSession
	default:
		return CodeInternal
	}
}
