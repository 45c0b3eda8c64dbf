package chat

import (
	"sync"
	"time"

	"supportchat/pkg/assistant"
	"supportchat/pkg/logger"
	"supportchat/pkg/models"
)

// autoSession is an ephemeral automated-assistant conversation. It lives
// only in the router's memory: messages are rendered client-side from the
// assistant events and are never written to the session store.
type autoSession struct {
	mu sync.Mutex
	s  models.Session
}

func (a *autoSession) owner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s.Customer
}

func (a *autoSession) snapshot() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.s
	return &out
}

func (r *Router) lookupAutomated(session string) *autoSession {
	r.amu.Lock()
	defer r.amu.Unlock()
	return r.automated[session]
}

// dropAutomatedOwnedBy discards the participant's automated sessions on
// disconnect; they are client-local and have nothing to resume.
func (r *Router) dropAutomatedOwnedBy(participant string) {
	r.amu.Lock()
	defer r.amu.Unlock()
	for id, a := range r.automated {
		if a.owner() == participant {
			delete(r.automated, id)
		}
	}
}

// automatedMessage handles a customer message in an automated session: the
// content is the picked option ID, answered from the static script. The
// echo of the customer's choice and the scripted reply both stay in memory.
func (r *Router) automatedMessage(a *autoSession, sender, content string) (*models.Message, error) {
	a.mu.Lock()
	if a.s.Customer != sender {
		a.mu.Unlock()
		return nil, ErrNotAMember
	}
	if a.s.Status.Terminal() {
		a.mu.Unlock()
		return nil, &SessionTerminalError{Status: a.s.Status}
	}
	node, ok := r.guide.Respond(content)
	if !ok {
		a.mu.Unlock()
		return nil, &ValidationError{Reason: "unknown assistant option"}
	}
	a.s.LastSeq++
	now := time.Now().UTC().UnixNano()
	a.s.UpdatedTS = now
	echo := &models.Message{
		Seq:        a.s.LastSeq,
		Session:    a.s.ID,
		SenderType: models.SenderCustomer,
		Sender:     sender,
		Content:    content,
		TS:         now,
	}
	session := a.s.ID
	a.mu.Unlock()

	r.reg.Send(sender, models.Event{Type: models.EventMessage, Payload: echo})
	r.sendAssistant(session, sender, node)
	return echo, nil
}

// endAutomated marks the ephemeral session ended. Idempotent like the
// durable path; the entry itself is discarded when the customer
// disconnects.
func (r *Router) endAutomated(a *autoSession, participant string) (*models.Session, error) {
	a.mu.Lock()
	if a.s.Customer != participant {
		a.mu.Unlock()
		return nil, ErrNotAMember
	}
	if a.s.Status.Terminal() {
		out := a.s
		a.mu.Unlock()
		return &out, nil
	}
	a.s.Status = models.StatusEnded
	a.s.EndedTS = time.Now().UTC().UnixNano()
	out := a.s
	a.mu.Unlock()

	logger.Info("automated_session_ended", "session", out.ID, "customer", participant)
	r.reg.Send(participant, models.Event{
		Type:    models.EventEnded,
		Payload: models.StatusPayload{Session: out.ID, Status: models.StatusEnded},
	})
	return &out, nil
}

func (r *Router) sendAssistant(session, customer string, node assistant.Node) {
	r.reg.Send(customer, models.Event{
		Type: models.EventAssistant,
		Payload: models.AssistantPayload{
			Session: session,
			Content: node.Content,
			Options: node.Options,
			Handoff: node.Handoff,
		},
	})
}
