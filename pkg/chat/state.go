package chat

import "supportchat/pkg/models"

// transitions is the session state machine. Terminal states (closed,
// ended) have no outgoing edges.
//
// waiting -> active is the assignment claim; waiting -> closed is the
// janitor (or an admin dismissing a stale request); any non-terminal
// state may move to ended by customer action.
var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusWaiting:  {models.StatusActive, models.StatusClosed, models.StatusEnded},
	models.StatusActive:   {models.StatusResolved, models.StatusClosed, models.StatusEnded},
	models.StatusResolved: {models.StatusEnded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to models.SessionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// checkTransition returns the typed error for an illegal move, nil otherwise.
func checkTransition(from, to models.SessionStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
