package models

// SessionKind distinguishes durable support conversations from ephemeral
// automated-assistant conversations.
type SessionKind string

const (
	KindSupport   SessionKind = "support"
	KindAutomated SessionKind = "automated"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusResolved SessionStatus = "resolved"
	StatusClosed   SessionStatus = "closed"
	StatusEnded    SessionStatus = "ended"
)

// Terminal reports whether no further writes or transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusClosed || s == StatusEnded
}

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Session struct {
	ID     string        `json:"id"`
	Kind   SessionKind   `json:"kind"`
	Status SessionStatus `json:"status"`
	// Customer is the owning participant; immutable for the session lifetime.
	Customer string `json:"customer"`
	// Admin is set once by the assignment claim; empty means unassigned.
	Admin     string `json:"admin,omitempty"`
	CreatedTS int64  `json:"created_ts"`
	// UpdatedTS tracks last activity (ns); bumped on every append/transition.
	UpdatedTS int64 `json:"updated_ts"`
	EndedTS   int64 `json:"ended_ts,omitempty"`
	// LastSeq is the per-session message counter; the store advances it
	// atomically with each append.
	LastSeq uint64 `json:"last_seq"`
}
