package chat

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"supportchat/pkg/assistant"
	"supportchat/pkg/models"
	"supportchat/pkg/presence"
	"supportchat/pkg/registry"
	"supportchat/pkg/store"
)

// chanHandle is an in-process connection for router tests.
type chanHandle struct {
	mu     sync.Mutex
	events []models.Event
}

func (h *chanHandle) Enqueue(ev models.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return true
}

func (h *chanHandle) Close(reason string) {}

func (h *chanHandle) byType(t string) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Event
	for _, ev := range h.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New()
	r := New(reg, presence.NewTracker(time.Minute), assistant.NewGuide(), Options{})
	return r, reg
}

func connect(t *testing.T, reg *registry.Registry, participant string, role models.Role) *chanHandle {
	t.Helper()
	h := &chanHandle{}
	reg.Register(participant, role, h)
	return h
}

func TestCreateSupportSessionAnnouncesToQueue(t *testing.T) {
	r, reg := newRouter(t)
	admin := connect(t, reg, "adm", models.RoleAdmin)
	reg.JoinRoom("adm", AdminQueueRoom)

	s, err := r.CreateSession("alice", models.KindSupport)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if s.Status != models.StatusWaiting {
		t.Fatalf("status = %s, want waiting", s.Status)
	}
	updates := admin.byType(models.EventQueueUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected 1 queue update, got %d", len(updates))
	}
	if p := updates[0].Payload.(models.QueueUpdatePayload); !p.Waiting || p.Session.ID != s.ID {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	r, _ := newRouter(t)
	if _, err := r.CreateSession("", models.KindSupport); err == nil {
		t.Fatal("empty customer should be rejected")
	}
	if _, err := r.CreateSession("alice", models.SessionKind("bogus")); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
}

func TestAssignIsFirstClaimWins(t *testing.T) {
	r, _ := newRouter(t)
	s, err := r.CreateSession("alice", models.KindSupport)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const claimants = 8
	var wg sync.WaitGroup
	winners := make(chan string, claimants)
	losers := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		admin := "admin-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Assign(s.ID, admin)
			if err == nil {
				winners <- got.Admin
				return
			}
			var aa *AlreadyAssignedError
			if !errors.As(err, &aa) {
				t.Errorf("loser got unexpected error: %v", err)
				return
			}
			losers <- aa.Admin
		}()
	}
	wg.Wait()
	close(winners)
	close(losers)

	var winner string
	n := 0
	for w := range winners {
		winner = w
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
	for l := range losers {
		if l != winner {
			t.Fatalf("loser told winner is %q, actual winner %q", l, winner)
		}
	}

	got, err := r.Session(s.ID, winner, models.RoleAdmin)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if got.Admin != winner || got.Status != models.StatusActive {
		t.Fatalf("stored session: %+v", got)
	}
}

func TestAssignAppendsSystemMessage(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	msgs, err := r.History(s.ID, "adm", models.RoleAdmin, 0, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderType != models.SenderSystem {
		t.Fatalf("expected one system message, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "adm") {
		t.Fatalf("system message should name the admin: %q", msgs[0].Content)
	}
}

func TestAssignEndedSessionRejected(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.EndSession(s.ID, "alice"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	_, err := r.Assign(s.ID, "adm")
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestSendMessageMembership(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)

	if _, err := r.SendMessage(s.ID, "mallory", models.RoleCustomer, "hi"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("stranger should be rejected, got %v", err)
	}
	// an unassigned admin is not yet a member either
	if _, err := r.SendMessage(s.ID, "adm", models.RoleAdmin, "hi"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("unassigned admin should be rejected, got %v", err)
	}

	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "hello"); err != nil {
		t.Fatalf("customer send failed: %v", err)
	}
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if _, err := r.SendMessage(s.ID, "adm", models.RoleAdmin, "how can I help"); err != nil {
		t.Fatalf("assigned admin send failed: %v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)

	var ve *ValidationError
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "   "); !errors.As(err, &ve) {
		t.Fatalf("blank content: got %v", err)
	}
	big := strings.Repeat("x", DefaultMaxMessageBytes+1)
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, big); !errors.As(err, &ve) {
		t.Fatalf("oversized content: got %v", err)
	}
	if _, err := r.SendMessage("nope", "alice", models.RoleCustomer, "hi"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("unknown session: got %v", err)
	}
}

func TestSendAfterTerminalRejected(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.EndSession(s.ID, "alice"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	var st *SessionTerminalError
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "hi"); !errors.As(err, &st) {
		t.Fatalf("expected SessionTerminalError, got %v", err)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)

	first, err := r.EndSession(s.ID, "alice")
	if err != nil {
		t.Fatalf("first end failed: %v", err)
	}
	second, err := r.EndSession(s.ID, "alice")
	if err != nil {
		t.Fatalf("repeated end must be a no-op, got %v", err)
	}
	if first.Status != models.StatusEnded || second.Status != models.StatusEnded {
		t.Fatalf("statuses: %s, %s", first.Status, second.Status)
	}

	// only one "customer ended" system message despite two calls
	msgs, _ := r.History(s.ID, "alice", models.RoleCustomer, 0, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(msgs))
	}
}

func TestEndSessionOnlyCustomer(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.EndSession(s.ID, "adm"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("non-customer end: got %v", err)
	}
}

func TestConcurrentSendsKeepContiguousSeqs(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	const perSender = 25
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perSender; i++ {
			if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "customer msg"); err != nil {
				t.Errorf("customer send failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perSender; i++ {
			if _, err := r.SendMessage(s.ID, "adm", models.RoleAdmin, "admin msg"); err != nil {
				t.Errorf("admin send failed: %v", err)
			}
		}
	}()
	wg.Wait()

	msgs, err := r.History(s.ID, "adm", models.RoleAdmin, 0, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	// +1 for the assignment system message
	if len(msgs) != 2*perSender+1 {
		t.Fatalf("expected %d messages, got %d", 2*perSender+1, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != uint64(i+1) {
			t.Fatalf("gap at index %d: seq %d", i, m.Seq)
		}
	}
}

func TestHistoryAccessRules(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if _, err := r.History(s.ID, "mallory", models.RoleCustomer, 0, 0); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("stranger history: got %v", err)
	}
	// any admin may read history, even before claiming
	msgs, err := r.History(s.ID, "other-admin", models.RoleAdmin, 0, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("admin history: msgs=%d err=%v", len(msgs), err)
	}
}

func TestHistoryAfterSupportsReconnectCatchup(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	for i := 0; i < 6; i++ {
		if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "m"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	msgs, err := r.History(s.ID, "alice", models.RoleCustomer, 4, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 5 {
		t.Fatalf("after=4: got %d msgs starting at seq %d", len(msgs), msgs[0].Seq)
	}
}

func TestSetStatusRules(t *testing.T) {
	r, _ := newRouter(t)
	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if _, err := r.SetStatus(s.ID, "other", models.StatusResolved); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("unassigned admin: got %v", err)
	}
	var ve *ValidationError
	if _, err := r.SetStatus(s.ID, "adm", models.StatusEnded); !errors.As(err, &ve) {
		t.Fatalf("direct ended: got %v", err)
	}

	got, err := r.SetStatus(s.ID, "adm", models.StatusResolved)
	if err != nil || got.Status != models.StatusResolved {
		t.Fatalf("resolve: %+v err=%v", got, err)
	}
	// resolved has no edge to closed
	var it *InvalidTransitionError
	if _, err := r.SetStatus(s.ID, "adm", models.StatusClosed); !errors.As(err, &it) {
		t.Fatalf("resolved->closed: got %v", err)
	}
}

func TestTypingBroadcastSkipsSender(t *testing.T) {
	r, reg := newRouter(t)
	alice := connect(t, reg, "alice", models.RoleCustomer)
	adm := connect(t, reg, "adm", models.RoleAdmin)

	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := r.JoinSession(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := r.StartTyping(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("start typing failed: %v", err)
	}
	if got := r.TypingParticipants(s.ID); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("typing list: %v", got)
	}
	if n := len(adm.byType(models.EventTyping)); n != 1 {
		t.Fatalf("admin should see 1 typing event, got %d", n)
	}
	if n := len(alice.byType(models.EventTyping)); n != 0 {
		t.Fatalf("sender should not see own typing event, got %d", n)
	}

	if err := r.StopTyping(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("stop typing failed: %v", err)
	}
	if got := r.TypingParticipants(s.ID); len(got) != 0 {
		t.Fatalf("typing list after stop: %v", got)
	}
}

func TestJoinSessionRules(t *testing.T) {
	r, reg := newRouter(t)
	connect(t, reg, "alice", models.RoleCustomer)
	s, _ := r.CreateSession("alice", models.KindSupport)

	if err := r.JoinSession(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("own session join failed: %v", err)
	}
	if err := r.JoinSession(s.ID, "mallory", models.RoleCustomer); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("stranger join: got %v", err)
	}
	if err := r.JoinSession(AdminQueueRoom, "alice", models.RoleCustomer); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("customer joining admin queue: got %v", err)
	}
	// admins may watch any session but need a live connection
	if err := r.JoinSession(s.ID, "ghost-admin", models.RoleAdmin); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("offline admin join: got %v", err)
	}
}

func TestDisconnectNotifiesRoomAndClearsTyping(t *testing.T) {
	r, reg := newRouter(t)
	aliceH := connect(t, reg, "alice", models.RoleCustomer)
	adm := connect(t, reg, "adm", models.RoleAdmin)

	s, _ := r.CreateSession("alice", models.KindSupport)
	if _, err := r.Assign(s.ID, "adm"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := r.JoinSession(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := r.StartTyping(s.ID, "alice", models.RoleCustomer); err != nil {
		t.Fatalf("typing failed: %v", err)
	}

	reg.Unregister("alice", aliceH)

	if got := r.TypingParticipants(s.ID); len(got) != 0 {
		t.Fatalf("typing should be purged on disconnect, got %v", got)
	}
	drops := adm.byType(models.EventDisconnected)
	if len(drops) != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", len(drops))
	}
	if p := drops[0].Payload.(models.DisconnectedPayload); p.Participant != "alice" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestCloseIdleWaiting(t *testing.T) {
	r, _ := newRouter(t)
	stale, _ := r.CreateSession("alice", models.KindSupport)
	fresh, _ := r.CreateSession("bob", models.KindSupport)

	// age the first session past the cutoff
	aged, err := store.GetSession(stale.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	aged.UpdatedTS = time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	if err := store.SaveSession(aged); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	closed, err := r.CloseIdleWaiting(24 * time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	got, _ := store.GetSession(stale.ID)
	if got.Status != models.StatusClosed {
		t.Fatalf("stale session status = %s", got.Status)
	}
	got, _ = store.GetSession(fresh.ID)
	if got.Status != models.StatusWaiting {
		t.Fatalf("fresh session should stay waiting, got %s", got.Status)
	}
}

func TestAutomatedSessionFlow(t *testing.T) {
	r, reg := newRouter(t)
	alice := connect(t, reg, "alice", models.RoleCustomer)

	s, err := r.CreateSession("alice", models.KindAutomated)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if s.Status != models.StatusActive {
		t.Fatalf("status = %s", s.Status)
	}
	greet := alice.byType(models.EventAssistant)
	if len(greet) != 1 {
		t.Fatalf("expected greeting, got %d assistant events", len(greet))
	}

	echo, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "order_status")
	if err != nil {
		t.Fatalf("option send failed: %v", err)
	}
	if echo.Seq != 1 || echo.SenderType != models.SenderCustomer {
		t.Fatalf("echo: %+v", echo)
	}
	if n := len(alice.byType(models.EventAssistant)); n != 2 {
		t.Fatalf("expected scripted reply, have %d assistant events", n)
	}

	var ve *ValidationError
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "not an option"); !errors.As(err, &ve) {
		t.Fatalf("unknown option: got %v", err)
	}
	if _, err := r.SendMessage(s.ID, "mallory", models.RoleCustomer, "order_status"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("stranger in automated session: got %v", err)
	}

	// nothing was persisted
	if _, err := store.GetSession(s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("automated session leaked to the store: %v", err)
	}
	msgs, err := r.History(s.ID, "alice", models.RoleCustomer, 0, 0)
	if err != nil || msgs != nil {
		t.Fatalf("automated history should be empty: msgs=%v err=%v", msgs, err)
	}

	ended, err := r.EndSession(s.ID, "alice")
	if err != nil || ended.Status != models.StatusEnded {
		t.Fatalf("end failed: %+v err=%v", ended, err)
	}
	if _, err := r.EndSession(s.ID, "alice"); err != nil {
		t.Fatalf("repeated end must be a no-op: %v", err)
	}
	var st *SessionTerminalError
	if _, err := r.SendMessage(s.ID, "alice", models.RoleCustomer, "order_status"); !errors.As(err, &st) {
		t.Fatalf("send after end: got %v", err)
	}
}

func TestAutomatedSessionDroppedOnDisconnect(t *testing.T) {
	r, reg := newRouter(t)
	h := connect(t, reg, "alice", models.RoleCustomer)
	s, _ := r.CreateSession("alice", models.KindAutomated)

	reg.Unregister("alice", h)

	if _, err := r.Session(s.ID, "alice", models.RoleCustomer); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("automated session should be gone after disconnect, got %v", err)
	}
}
