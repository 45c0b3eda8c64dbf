package presence

import (
	"testing"
	"time"
)

func TestTypingExpiresAfterTTL(t *testing.T) {
	tr := NewTracker(2 * time.Second)
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	tr.StartTyping("s1", "alice")
	if got := tr.ListTyping("s1"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected [alice], got %v", got)
	}

	clock = clock.Add(3 * time.Second)
	if got := tr.ListTyping("s1"); len(got) != 0 {
		t.Fatalf("expected expired entry to be swept, got %v", got)
	}
}

func TestStartTypingRefreshesExpiry(t *testing.T) {
	tr := NewTracker(2 * time.Second)
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	tr.StartTyping("s1", "alice")
	clock = clock.Add(1500 * time.Millisecond)
	tr.StartTyping("s1", "alice")
	clock = clock.Add(1500 * time.Millisecond)
	if got := tr.ListTyping("s1"); len(got) != 1 {
		t.Fatalf("refreshed entry should still be live, got %v", got)
	}
}

func TestStopTypingRemovesImmediately(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartTyping("s1", "alice")
	tr.StopTyping("s1", "alice")
	if got := tr.ListTyping("s1"); len(got) != 0 {
		t.Fatalf("expected no typers after stop, got %v", got)
	}
}

func TestDropParticipantClearsAllSessions(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartTyping("s1", "alice")
	tr.StartTyping("s2", "alice")
	tr.StartTyping("s2", "bob")
	tr.DropParticipant("alice")
	if got := tr.ListTyping("s1"); len(got) != 0 {
		t.Fatalf("s1 should be empty, got %v", got)
	}
	if got := tr.ListTyping("s2"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("s2 should keep bob, got %v", got)
	}
}
