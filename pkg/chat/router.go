// Package chat implements the dispatch router: it validates inbound
// participant commands against the session state machine, mutates the
// session store under a per-session critical section, and fans the
// resulting events out through the connection registry.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"supportchat/pkg/assistant"
	"supportchat/pkg/logger"
	"supportchat/pkg/metrics"
	"supportchat/pkg/models"
	"supportchat/pkg/presence"
	"supportchat/pkg/registry"
	"supportchat/pkg/store"
	"supportchat/pkg/utils"
)

// AdminQueueRoom is the pseudo room admins join to watch the waiting queue.
const AdminQueueRoom = "admin:queue"

// DefaultMaxMessageBytes bounds message content size.
const DefaultMaxMessageBytes = 4096

type Options struct {
	// MaxMessageBytes bounds message content; 0 means DefaultMaxMessageBytes.
	MaxMessageBytes int
}

type Router struct {
	reg    *registry.Registry
	typing *presence.Tracker
	guide  *assistant.Guide

	maxBytes int

	// locks holds one mutex per session ID; every store mutation for a
	// session happens under its mutex (single-writer-per-session). A
	// global lock over all sessions would serialize unrelated customers.
	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	// automated sessions are ephemeral and never touch the store.
	amu       sync.Mutex
	automated map[string]*autoSession
}

func New(reg *registry.Registry, typing *presence.Tracker, guide *assistant.Guide, opts Options) *Router {
	maxBytes := opts.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	r := &Router{
		reg:       reg,
		typing:    typing,
		guide:     guide,
		maxBytes:  maxBytes,
		locks:     make(map[string]*sync.Mutex),
		automated: make(map[string]*autoSession),
	}
	reg.OnDisconnect(r.handleDisconnect)
	return r
}

// lockSession enters the session's critical section and returns the
// unlock func. Mutexes are created on demand and kept for the process
// lifetime; sessions are never deleted so the set is bounded by the
// session count.
func (r *Router) lockSession(id string) func() {
	r.lmu.Lock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	r.lmu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// CreateSession starts a new conversation for the customer. Support
// sessions are persisted in status waiting and announced to the admin
// queue; automated sessions stay in memory and greet immediately.
func (r *Router) CreateSession(customer string, kind models.SessionKind) (*models.Session, error) {
	if customer == "" {
		return nil, &ValidationError{Reason: "customer is required"}
	}
	now := time.Now().UTC().UnixNano()
	s := &models.Session{
		ID:        utils.GenSessionID(),
		Kind:      kind,
		Customer:  customer,
		CreatedTS: now,
		UpdatedTS: now,
	}
	switch kind {
	case models.KindAutomated:
		s.Status = models.StatusActive
		r.amu.Lock()
		r.automated[s.ID] = &autoSession{s: *s}
		r.amu.Unlock()
		metrics.SessionsCreated.WithLabelValues(string(kind)).Inc()
		logger.Info("session_created", "session", s.ID, "kind", kind, "customer", customer)
		r.sendAssistant(s.ID, customer, r.guide.Greeting())
		return s, nil
	case models.KindSupport:
		s.Status = models.StatusWaiting
		if err := store.SaveSession(s); err != nil {
			return nil, err
		}
		metrics.SessionsCreated.WithLabelValues(string(kind)).Inc()
		logger.Info("session_created", "session", s.ID, "kind", kind, "customer", customer)
		r.reg.Broadcast(AdminQueueRoom, models.Event{
			Type:    models.EventQueueUpdate,
			Payload: models.QueueUpdatePayload{Session: s, Waiting: true},
		})
		return s, nil
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown session kind %q", kind)}
	}
}

// JoinSession subscribes the participant's live connection to the
// session's room. Customers may only join their own sessions; admins may
// join any (that is how they observe waiting sessions).
func (r *Router) JoinSession(session, participant string, role models.Role) error {
	if session == AdminQueueRoom {
		if role != models.RoleAdmin {
			return ErrNotAMember
		}
		r.reg.JoinRoom(participant, session)
		return nil
	}
	s, err := r.getAny(session)
	if err != nil {
		return err
	}
	if role != models.RoleAdmin && s.Customer != participant {
		return ErrNotAMember
	}
	if !r.reg.JoinRoom(participant, session) {
		return ErrNotConnected
	}
	logger.Debug("room_joined", "session", session, "participant", participant)
	return nil
}

// LeaveSession removes the participant from the session room. The session
// itself is unaffected; only live deliverability changes.
func (r *Router) LeaveSession(session, participant string) {
	r.reg.LeaveRoom(participant, session)
}

// SendMessage validates, persists and fans out one message. Append and
// counter advance happen inside the session's critical section; fan-out
// happens after it is released.
func (r *Router) SendMessage(session, sender string, role models.Role, content string) (*models.Message, error) {
	if err := r.validateContent(content); err != nil {
		return nil, err
	}
	if auto := r.lookupAutomated(session); auto != nil {
		return r.automatedMessage(auto, sender, content)
	}

	unlock := r.lockSession(session)
	s, err := store.GetSession(session)
	if err != nil {
		unlock()
		return nil, mapStoreErr(err)
	}
	if s.Status.Terminal() {
		unlock()
		return nil, &SessionTerminalError{Status: s.Status}
	}
	senderType, ok := memberType(s, sender, role)
	if !ok {
		unlock()
		return nil, ErrNotAMember
	}
	m := &models.Message{
		SenderType: senderType,
		Sender:     sender,
		Content:    content,
		TS:         time.Now().UTC().UnixNano(),
	}
	if err := store.AppendMessage(s, m); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.MessagesAppended.Inc()
	r.reg.Broadcast(session, models.Event{Type: models.EventMessage, Payload: m})
	return m, nil
}

// StartTyping broadcasts a transient typing indicator to the other room
// members. Nothing is persisted.
func (r *Router) StartTyping(session, participant string, role models.Role) error {
	if auto := r.lookupAutomated(session); auto != nil {
		return nil
	}
	s, err := store.GetSession(session)
	if err != nil {
		return mapStoreErr(err)
	}
	if _, ok := memberType(s, participant, role); !ok {
		return ErrNotAMember
	}
	r.typing.StartTyping(session, participant)
	r.reg.Broadcast(session, models.Event{
		Type:    models.EventTyping,
		Payload: models.TypingPayload{Session: session, Participant: participant, Typing: true},
	}, participant)
	return nil
}

// StopTyping clears the indicator immediately.
func (r *Router) StopTyping(session, participant string, role models.Role) error {
	if auto := r.lookupAutomated(session); auto != nil {
		return nil
	}
	s, err := store.GetSession(session)
	if err != nil {
		return mapStoreErr(err)
	}
	if _, ok := memberType(s, participant, role); !ok {
		return ErrNotAMember
	}
	r.typing.StopTyping(session, participant)
	r.reg.Broadcast(session, models.Event{
		Type:    models.EventTyping,
		Payload: models.TypingPayload{Session: session, Participant: participant, Typing: false},
	}, participant)
	return nil
}

// TypingParticipants lists who is currently typing in the session.
func (r *Router) TypingParticipants(session string) []string {
	return r.typing.ListTyping(session)
}

// EndSession is the customer's exit. It is idempotent: ending an already
// terminal session is a no-op, which makes a double-click racing a retry
// harmless (the terminal-state guard is the dedupe mechanism).
func (r *Router) EndSession(session, participant string) (*models.Session, error) {
	if auto := r.lookupAutomated(session); auto != nil {
		return r.endAutomated(auto, participant)
	}

	unlock := r.lockSession(session)
	s, err := store.GetSession(session)
	if err != nil {
		unlock()
		return nil, mapStoreErr(err)
	}
	if s.Customer != participant {
		unlock()
		return nil, ErrNotAMember
	}
	if s.Status.Terminal() {
		unlock()
		return s, nil
	}
	wasWaiting := s.Status == models.StatusWaiting
	s.Status = models.StatusEnded
	s.EndedTS = time.Now().UTC().UnixNano()
	sys := &models.Message{
		SenderType: models.SenderSystem,
		Content:    "customer ended the conversation",
		TS:         s.EndedTS,
	}
	// AppendMessage persists the system message and the ended status in
	// one batch; partial application is impossible.
	if err := store.AppendMessage(s, sys); err != nil {
		unlock()
		return nil, err
	}
	out := *s
	unlock()

	logger.Info("session_ended", "session", session, "customer", participant)
	r.reg.Broadcast(session, models.Event{Type: models.EventMessage, Payload: sys})
	r.reg.Broadcast(session, models.Event{
		Type:    models.EventEnded,
		Payload: models.StatusPayload{Session: session, Status: models.StatusEnded},
	})
	if wasWaiting {
		r.reg.Broadcast(AdminQueueRoom, models.Event{
			Type:    models.EventQueueUpdate,
			Payload: models.QueueUpdatePayload{Session: &out, Waiting: false},
		})
	}
	return &out, nil
}

// Assign is the admin's claim on a waiting session: an atomic
// compare-and-set of the admin field under the session lock. The first
// claim wins; later claimants get AlreadyAssigned with the winner's
// identity. On success the session goes active and an "admin joined"
// system message is appended and fanned out.
func (r *Router) Assign(session, admin string) (*models.Session, error) {
	unlock := r.lockSession(session)
	s, err := store.GetSession(session)
	if err != nil {
		unlock()
		return nil, mapStoreErr(err)
	}
	if s.Admin != "" {
		winner := s.Admin
		unlock()
		metrics.AssignConflicts.Inc()
		return nil, &AlreadyAssignedError{Admin: winner}
	}
	if err := checkTransition(s.Status, models.StatusActive); err != nil {
		unlock()
		return nil, err
	}
	s.Admin = admin
	s.Status = models.StatusActive
	sys := &models.Message{
		SenderType: models.SenderSystem,
		Content:    fmt.Sprintf("admin %s joined the conversation", admin),
		TS:         time.Now().UTC().UnixNano(),
	}
	if err := store.AppendMessage(s, sys); err != nil {
		unlock()
		return nil, err
	}
	out := *s
	unlock()

	logger.Info("session_assigned", "session", session, "admin", admin)
	// The claiming admin starts receiving live events right away.
	r.reg.JoinRoom(admin, session)
	r.reg.Broadcast(session, models.Event{Type: models.EventMessage, Payload: sys})
	r.reg.Broadcast(session, models.Event{
		Type:    models.EventAdminJoined,
		Payload: models.StatusPayload{Session: session, Status: models.StatusActive, Admin: admin},
	})
	r.reg.Broadcast(AdminQueueRoom, models.Event{
		Type:    models.EventQueueUpdate,
		Payload: models.QueueUpdatePayload{Session: &out, Waiting: false},
	})
	return &out, nil
}

// SetStatus is the assigned admin's resolve/close action.
func (r *Router) SetStatus(session, admin string, to models.SessionStatus) (*models.Session, error) {
	if to != models.StatusResolved && to != models.StatusClosed {
		return nil, &ValidationError{Reason: fmt.Sprintf("status %q cannot be set directly", to)}
	}

	unlock := r.lockSession(session)
	s, err := store.GetSession(session)
	if err != nil {
		unlock()
		return nil, mapStoreErr(err)
	}
	if s.Admin != admin {
		unlock()
		return nil, ErrNotAMember
	}
	if err := checkTransition(s.Status, to); err != nil {
		unlock()
		return nil, err
	}
	s.Status = to
	s.UpdatedTS = time.Now().UTC().UnixNano()
	if err := store.SaveSession(s); err != nil {
		unlock()
		return nil, err
	}
	out := *s
	unlock()

	logger.Info("session_status_set", "session", session, "status", to, "admin", admin)
	r.reg.Broadcast(session, models.Event{
		Type:    models.EventStatus,
		Payload: models.StatusPayload{Session: session, Status: to, Admin: admin},
	})
	return &out, nil
}

// ListWaiting returns the admin queue: support sessions awaiting a claim.
func (r *Router) ListWaiting() ([]*models.Session, error) {
	return store.ListSessionsByStatus(models.StatusWaiting)
}

// History returns the session's durable messages with Seq > after, in
// insertion order. Reconnecting participants use this full fetch instead
// of incremental replay. Automated sessions have no durable history.
func (r *Router) History(session, participant string, role models.Role, after uint64, limit int) ([]models.Message, error) {
	if auto := r.lookupAutomated(session); auto != nil {
		if auto.owner() != participant {
			return nil, ErrNotAMember
		}
		return nil, nil
	}
	s, err := store.GetSession(session)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if role != models.RoleAdmin && s.Customer != participant {
		return nil, ErrNotAMember
	}
	return store.ListMessages(session, after, limit)
}

// Session returns the session metadata, subject to the same read rules as
// History.
func (r *Router) Session(session, participant string, role models.Role) (*models.Session, error) {
	if auto := r.lookupAutomated(session); auto != nil {
		if auto.owner() != participant {
			return nil, ErrNotAMember
		}
		return auto.snapshot(), nil
	}
	s, err := store.GetSession(session)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if role != models.RoleAdmin && s.Customer != participant {
		return nil, ErrNotAMember
	}
	return s, nil
}

// CloseIdleWaiting closes waiting sessions with no activity for at least
// idle, appending a system notice. Invoked by the retention janitor.
func (r *Router) CloseIdleWaiting(idle time.Duration) (int, error) {
	waiting, err := store.ListSessionsByStatus(models.StatusWaiting)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-idle).UnixNano()
	closed := 0
	for _, cand := range waiting {
		if cand.UpdatedTS > cutoff {
			continue
		}
		unlock := r.lockSession(cand.ID)
		s, err := store.GetSession(cand.ID)
		if err != nil || s.Status != models.StatusWaiting || s.UpdatedTS > cutoff {
			unlock()
			continue
		}
		s.Status = models.StatusClosed
		sys := &models.Message{
			SenderType: models.SenderSystem,
			Content:    "conversation closed due to inactivity",
			TS:         time.Now().UTC().UnixNano(),
		}
		if err := store.AppendMessage(s, sys); err != nil {
			unlock()
			logger.Error("idle_close_failed", "session", s.ID, "error", err)
			continue
		}
		out := *s
		unlock()

		closed++
		metrics.SessionsClosedIdle.Inc()
		logger.Info("session_closed_idle", "session", out.ID)
		r.reg.Broadcast(out.ID, models.Event{
			Type:    models.EventStatus,
			Payload: models.StatusPayload{Session: out.ID, Status: models.StatusClosed},
		})
		r.reg.Broadcast(AdminQueueRoom, models.Event{
			Type:    models.EventQueueUpdate,
			Payload: models.QueueUpdatePayload{Session: &out, Waiting: false},
		})
	}
	return closed, nil
}

// handleDisconnect is the registry's disconnect signal: it purges typing
// entries immediately (TTL alone would show a stale indicator for the TTL
// window) and tells remaining room members the participant dropped.
// Sessions are unaffected; the store keeps accepting messages and the
// participant refetches history on reconnect.
func (r *Router) handleDisconnect(participant string, role models.Role, sessions []string) {
	r.typing.DropParticipant(participant)
	r.dropAutomatedOwnedBy(participant)
	for _, session := range sessions {
		if session == AdminQueueRoom {
			continue
		}
		if role == models.RoleAdmin {
			logger.Info("admin_dropped", "session", session, "admin", participant)
		}
		r.reg.Broadcast(session, models.Event{
			Type:    models.EventDisconnected,
			Payload: models.DisconnectedPayload{Session: session, Participant: participant, Role: role},
		})
	}
}

func (r *Router) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: "content is empty"}
	}
	if len(content) > r.maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("content exceeds %d bytes", r.maxBytes)}
	}
	return nil
}

// getAny resolves a session from the automated map or the store.
func (r *Router) getAny(session string) (*models.Session, error) {
	if auto := r.lookupAutomated(session); auto != nil {
		return auto.snapshot(), nil
	}
	s, err := store.GetSession(session)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return s, nil
}

// memberType resolves the sender's message sender type, or reports that
// the sender is not a member. Only the owning customer and the assigned
// admin are members.
func memberType(s *models.Session, sender string, role models.Role) (models.SenderType, bool) {
	switch {
	case sender == s.Customer && role == models.RoleCustomer:
		return models.SenderCustomer, true
	case s.Admin != "" && sender == s.Admin && role == models.RoleAdmin:
		return models.SenderAdmin, true
	default:
		return "", false
	}
}

func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownSession
	}
	return err
}
