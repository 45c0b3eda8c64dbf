package models

// Event is the envelope for everything pushed over a live connection.
// Payload is one of the *Payload structs below depending on Type.
type Event struct {
	Type string `json:"type"`
	// Ref echoes the client-provided reference of the command that caused
	// this event, when there is one. Used to correlate error replies.
	Ref     string `json:"ref,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Event types pushed to clients.
const (
	EventMessage      = "message"
	EventTyping       = "typing"
	EventStatus       = "session_status"
	EventAdminJoined  = "admin_joined"
	EventEnded        = "session_ended"
	EventDisconnected = "participant_disconnected"
	EventQueueUpdate  = "queue_update"
	EventAssistant    = "assistant"
	EventError        = "error"
)

type TypingPayload struct {
	Session     string `json:"session"`
	Participant string `json:"participant"`
	Typing      bool   `json:"typing"`
}

type StatusPayload struct {
	Session string        `json:"session"`
	Status  SessionStatus `json:"status"`
	Admin   string        `json:"admin,omitempty"`
}

type DisconnectedPayload struct {
	Session     string `json:"session"`
	Participant string `json:"participant"`
	Role        Role   `json:"role"`
}

// QueueUpdatePayload notifies admins watching the waiting queue.
type QueueUpdatePayload struct {
	Session *Session `json:"session"`
	// Waiting is false when the session left the queue (claimed or ended).
	Waiting bool `json:"waiting"`
}

// AssistantPayload carries one automated-assistant reply: the scripted text
// plus the options the customer may pick next.
type AssistantPayload struct {
	Session string            `json:"session"`
	Content string            `json:"content"`
	Options []AssistantOption `json:"options,omitempty"`
	// Handoff signals the client to offer escalation to a support session.
	Handoff bool `json:"handoff,omitempty"`
}

type AssistantOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Admin is set on already_assigned errors so the client can redirect
	// to the winning admin's view.
	Admin string `json:"admin,omitempty"`
}
