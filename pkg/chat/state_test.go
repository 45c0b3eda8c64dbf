package chat

import (
	"testing"

	"supportchat/pkg/models"
)

func TestStateMachineEdges(t *testing.T) {
	cases := []struct {
		from, to models.SessionStatus
		ok       bool
	}{
		{models.StatusWaiting, models.StatusActive, true},
		{models.StatusWaiting, models.StatusClosed, true},
		{models.StatusWaiting, models.StatusEnded, true},
		{models.StatusWaiting, models.StatusResolved, false},
		{models.StatusActive, models.StatusResolved, true},
		{models.StatusActive, models.StatusClosed, true},
		{models.StatusActive, models.StatusEnded, true},
		{models.StatusActive, models.StatusWaiting, false},
		{models.StatusResolved, models.StatusEnded, true},
		{models.StatusResolved, models.StatusActive, false},
		{models.StatusClosed, models.StatusActive, false},
		{models.StatusClosed, models.StatusEnded, false},
		{models.StatusEnded, models.StatusActive, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, st := range []models.SessionStatus{models.StatusClosed, models.StatusEnded} {
		if !st.Terminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []models.SessionStatus{models.StatusWaiting, models.StatusActive, models.StatusResolved} {
		if st.Terminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}
}
