// Package presence tracks transient "is typing" state per session.
// Entries are never persisted; correctness relies on read-time sweeping
// plus explicit stop calls, so no background goroutine is needed.
package presence

import (
	"sync"
	"time"
)

// DefaultTTL matches the idle gap between keystroke-driven refreshes from
// clients; an entry not refreshed within the TTL is treated as absent.
const DefaultTTL = 2 * time.Second

type Tracker struct {
	mu  sync.Mutex
	ttl time.Duration
	// session -> participant -> expiry
	entries map[string]map[string]time.Time
	now     func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:     ttl,
		entries: make(map[string]map[string]time.Time),
		now:     time.Now,
	}
}

// StartTyping inserts or refreshes the participant's entry for the session.
func (t *Tracker) StartTyping(session, participant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[session]
	if !ok {
		m = make(map[string]time.Time)
		t.entries[session] = m
	}
	m[participant] = t.now().Add(t.ttl)
}

// StopTyping removes the entry immediately.
func (t *Tracker) StopTyping(session, participant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.entries[session]; ok {
		delete(m, participant)
		if len(m) == 0 {
			delete(t.entries, session)
		}
	}
}

// ListTyping returns all non-expired participants for the session, sweeping
// expired entries as it reads.
func (t *Tracker) ListTyping(session string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[session]
	if !ok {
		return nil
	}
	now := t.now()
	var out []string
	for p, exp := range m {
		if exp.Before(now) || exp.Equal(now) {
			delete(m, p)
			continue
		}
		out = append(out, p)
	}
	if len(m) == 0 {
		delete(t.entries, session)
	}
	return out
}

// DropParticipant removes every entry for the participant across all
// sessions. Wired to the connection registry's disconnect signal so a hard
// disconnect does not leave a stale typing indicator for the TTL window.
func (t *Tracker) DropParticipant(participant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for session, m := range t.entries {
		delete(m, participant)
		if len(m) == 0 {
			delete(t.entries, session)
		}
	}
}
