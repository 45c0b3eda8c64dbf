package store

import (
	"testing"

	"supportchat/pkg/models"
)

func openTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
	return dir
}

func TestSaveAndGetSession(t *testing.T) {
	openTemp(t)
	s := &models.Session{ID: "s1", Kind: models.KindSupport, Status: models.StatusWaiting, Customer: "alice"}
	if err := SaveSession(s); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := GetSession("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Customer != "alice" || got.Status != models.StatusWaiting {
		t.Fatalf("unexpected session: %+v", got)
	}
	if _, err := GetSession("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageAssignsContiguousSeqs(t *testing.T) {
	openTemp(t)
	s := &models.Session{ID: "s1", Kind: models.KindSupport, Status: models.StatusActive, Customer: "alice"}
	if err := SaveSession(s); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		m := &models.Message{SenderType: models.SenderCustomer, Sender: "alice", Content: "hi"}
		if err := AppendMessage(s, m); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		if m.Seq != uint64(i+1) {
			t.Fatalf("message %d got seq %d", i, m.Seq)
		}
	}

	msgs, err := ListMessages("s1", 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != uint64(i+1) {
			t.Fatalf("message %d out of order: seq %d", i, m.Seq)
		}
	}

	// the counter is persisted with the message in the same batch
	got, err := GetSession("s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastSeq != 5 {
		t.Fatalf("stored LastSeq = %d, want 5", got.LastSeq)
	}
}

func TestListMessagesAfterAndLimit(t *testing.T) {
	openTemp(t)
	s := &models.Session{ID: "s1", Status: models.StatusActive, Customer: "alice"}
	_ = SaveSession(s)
	for i := 0; i < 10; i++ {
		if err := AppendMessage(s, &models.Message{Sender: "alice", Content: "m"}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	msgs, err := ListMessages("s1", 4, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 6 || msgs[0].Seq != 5 {
		t.Fatalf("after=4: got %d messages starting at %d", len(msgs), msgs[0].Seq)
	}

	msgs, err = ListMessages("s1", 4, 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Seq != 7 {
		t.Fatalf("after=4 limit=3: got %d messages, last seq %d", len(msgs), msgs[len(msgs)-1].Seq)
	}
}

func TestMessagesDoNotLeakAcrossSessions(t *testing.T) {
	openTemp(t)
	a := &models.Session{ID: "a", Status: models.StatusActive, Customer: "alice"}
	ab := &models.Session{ID: "ab", Status: models.StatusActive, Customer: "bob"}
	_ = SaveSession(a)
	_ = SaveSession(ab)
	_ = AppendMessage(a, &models.Message{Sender: "alice", Content: "one"})
	_ = AppendMessage(ab, &models.Message{Sender: "bob", Content: "two"})

	// "a" is a key prefix of "ab"; iteration must stop at the boundary
	msgs, err := ListMessages("a", 0, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "one" {
		t.Fatalf("prefix leak: %+v", msgs)
	}
}

func TestReopenKeepsCounter(t *testing.T) {
	dir := openTemp(t)
	s := &models.Session{ID: "s1", Status: models.StatusActive, Customer: "alice"}
	_ = SaveSession(s)
	_ = AppendMessage(s, &models.Message{Sender: "alice", Content: "before restart"})
	if err := Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := Open(dir); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := GetSession("s1")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if got.LastSeq != 1 {
		t.Fatalf("LastSeq after reopen = %d", got.LastSeq)
	}
	m := &models.Message{Sender: "alice", Content: "after restart"}
	if err := AppendMessage(got, m); err != nil {
		t.Fatalf("append after reopen failed: %v", err)
	}
	if m.Seq != 2 {
		t.Fatalf("seq after reopen = %d, want 2", m.Seq)
	}
}

func TestListSessionsByStatus(t *testing.T) {
	openTemp(t)
	_ = SaveSession(&models.Session{ID: "w1", Status: models.StatusWaiting, Customer: "a"})
	_ = SaveSession(&models.Session{ID: "w2", Status: models.StatusWaiting, Customer: "b"})
	_ = SaveSession(&models.Session{ID: "e1", Status: models.StatusEnded, Customer: "c"})

	waiting, err := ListSessionsByStatus(models.StatusWaiting)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting sessions, got %d", len(waiting))
	}
}

func TestMaxSeqForSession(t *testing.T) {
	openTemp(t)
	s := &models.Session{ID: "s1", Status: models.StatusActive, Customer: "alice"}
	_ = SaveSession(s)
	for i := 0; i < 3; i++ {
		_ = AppendMessage(s, &models.Message{Sender: "alice", Content: "m"})
	}
	max, err := MaxSeqForSession("s1")
	if err != nil {
		t.Fatalf("maxseq failed: %v", err)
	}
	if max != 3 {
		t.Fatalf("max = %d, want 3", max)
	}
	max, err = MaxSeqForSession("empty")
	if err != nil || max != 0 {
		t.Fatalf("empty session: max=%d err=%v", max, err)
	}
}
