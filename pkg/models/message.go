package models

// SenderType classifies who produced a message.
type SenderType string

const (
	SenderCustomer  SenderType = "customer"
	SenderAdmin     SenderType = "admin"
	SenderSystem    SenderType = "system"
	SenderAutomated SenderType = "automated"
)

type Message struct {
	// Seq is assigned by the store at insertion from the session counter;
	// strictly increasing within a session.
	Seq        uint64     `json:"seq"`
	Session    string     `json:"session"`
	SenderType SenderType `json:"sender_type"`
	// Sender is empty for system and automated messages.
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}
