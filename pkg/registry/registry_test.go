package registry

import (
	"sort"
	"testing"

	"supportchat/pkg/models"
)

// testHandle collects enqueued events; cap simulates a bounded send buffer.
type testHandle struct {
	events []models.Event
	cap    int
	closed []string
}

func newTestHandle(capacity int) *testHandle {
	return &testHandle{cap: capacity}
}

func (h *testHandle) Enqueue(ev models.Event) bool {
	if h.cap > 0 && len(h.events) >= h.cap {
		return false
	}
	h.events = append(h.events, ev)
	return true
}

func (h *testHandle) Close(reason string) { h.closed = append(h.closed, reason) }

func TestRegisterLatestWins(t *testing.T) {
	r := New()
	first := newTestHandle(0)
	second := newTestHandle(0)

	r.Register("alice", models.RoleCustomer, first)
	r.JoinRoom("alice", "s1")
	r.Register("alice", models.RoleCustomer, second)

	if len(first.closed) != 1 {
		t.Fatalf("evicted handle should be closed, got %v", first.closed)
	}
	if r.InRoom("alice", "s1") {
		t.Fatal("room membership must not carry over to the new connection")
	}
	if !r.Send("alice", models.Event{Type: models.EventMessage}) {
		t.Fatal("send should reach the new connection")
	}
	if len(second.events) != 1 || len(first.events) != 0 {
		t.Fatalf("event went to the wrong handle: first=%d second=%d", len(first.events), len(second.events))
	}
}

func TestUnregisterStaleHandleIsIgnored(t *testing.T) {
	r := New()
	first := newTestHandle(0)
	second := newTestHandle(0)

	fired := 0
	r.OnDisconnect(func(participant string, role models.Role, sessions []string) { fired++ })

	r.Register("alice", models.RoleCustomer, first)
	r.Register("alice", models.RoleCustomer, second)

	// the evicted connection's read loop exits and unregisters; this must
	// not count as the participant leaving
	r.Unregister("alice", first)
	if fired != 0 {
		t.Fatalf("stale unregister fired disconnect hooks %d times", fired)
	}
	if !r.Connected("alice") {
		t.Fatal("participant should still be connected via the newer handle")
	}

	r.Unregister("alice", second)
	if fired != 1 {
		t.Fatalf("expected exactly one disconnect, got %d", fired)
	}
	if r.Connected("alice") {
		t.Fatal("participant should be gone after the real disconnect")
	}
}

func TestDisconnectHookReceivesRooms(t *testing.T) {
	r := New()
	h := newTestHandle(0)
	var gotSessions []string
	var gotRole models.Role
	r.OnDisconnect(func(participant string, role models.Role, sessions []string) {
		gotRole = role
		gotSessions = sessions
	})

	r.Register("adm", models.RoleAdmin, h)
	r.JoinRoom("adm", "s1")
	r.JoinRoom("adm", "s2")
	r.Unregister("adm", h)

	sort.Strings(gotSessions)
	if gotRole != models.RoleAdmin {
		t.Fatalf("role = %q", gotRole)
	}
	if len(gotSessions) != 2 || gotSessions[0] != "s1" || gotSessions[1] != "s2" {
		t.Fatalf("sessions = %v", gotSessions)
	}
}

func TestBroadcastExceptAndFullBuffer(t *testing.T) {
	r := New()
	alice := newTestHandle(0)
	bob := newTestHandle(1)
	carol := newTestHandle(0)

	r.Register("alice", models.RoleCustomer, alice)
	r.Register("bob", models.RoleCustomer, bob)
	r.Register("carol", models.RoleAdmin, carol)
	r.JoinRoom("alice", "s1")
	r.JoinRoom("bob", "s1")
	r.JoinRoom("carol", "s1")

	if n := r.Broadcast("s1", models.Event{Type: models.EventTyping}, "alice"); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(alice.events) != 0 {
		t.Fatal("excepted participant received the event")
	}

	// bob's buffer is now full; delivery to him is dropped, not blocked
	if n := r.Broadcast("s1", models.Event{Type: models.EventMessage}); n != 2 {
		t.Fatalf("expected 2 deliveries with one drop, got %d", n)
	}
	if len(bob.events) != 1 {
		t.Fatalf("full buffer should drop, bob has %d events", len(bob.events))
	}
}

func TestJoinRoomRequiresConnection(t *testing.T) {
	r := New()
	if r.JoinRoom("ghost", "s1") {
		t.Fatal("joining without a connection should fail")
	}
	if members := r.RoomMembers("s1"); len(members) != 0 {
		t.Fatalf("room should be empty, got %v", members)
	}
}

func TestCloseAll(t *testing.T) {
	r := New()
	a := newTestHandle(0)
	b := newTestHandle(0)
	r.Register("a", models.RoleCustomer, a)
	r.Register("b", models.RoleAdmin, b)
	r.CloseAll("server shutting down")

	if len(a.closed) != 1 || len(b.closed) != 1 {
		t.Fatal("all handles should be closed")
	}
	if r.Connected("a") || r.Connected("b") {
		t.Fatal("no participant should remain connected")
	}
}
