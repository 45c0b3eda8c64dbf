// Package assistant implements the scripted decision-tree assistant. It is
// a static lookup table with no store interaction; its replies are rendered
// as ephemeral automated messages that are never persisted.
package assistant

import "supportchat/pkg/models"

const rootID = "start"

// Node is one scripted reply: the text shown to the customer and the
// options they may pick next. Handoff marks the point where the script
// suggests escalating to a live support session.
type Node struct {
	Content string
	Options []models.AssistantOption
	Handoff bool
}

type Guide struct {
	nodes map[string]Node
}

// NewGuide builds the built-in support script.
func NewGuide() *Guide {
	opt := func(id, label string) models.AssistantOption {
		return models.AssistantOption{ID: id, Label: label}
	}
	nodes := map[string]Node{
		rootID: {
			Content: "Hi! I can help with a few common questions. What do you need?",
			Options: []models.AssistantOption{
				opt("order_status", "Where is my order?"),
				opt("replacement", "I received a damaged item"),
				opt("returns", "How do returns work?"),
				opt("agent", "Talk to a support agent"),
			},
		},
		"order_status": {
			Content: "You can track your order from the Orders page; tracking numbers appear once the package ships, usually within 1-2 business days.",
			Options: []models.AssistantOption{
				opt("order_late", "My order is late"),
				opt("start", "Back"),
			},
		},
		"order_late": {
			Content: "Sorry about that. If the order is more than 5 days past the estimate, an agent can look into it for you.",
			Options: []models.AssistantOption{
				opt("agent", "Talk to a support agent"),
				opt("start", "Back"),
			},
			Handoff: true,
		},
		"replacement": {
			Content: "You can open a replacement request from the order's detail page. Attach a photo of the damaged item and we will ship a replacement after review.",
			Options: []models.AssistantOption{
				opt("agent", "Talk to a support agent"),
				opt("start", "Back"),
			},
		},
		"returns": {
			Content: "Unused items can be returned within 30 days of delivery. Refunds are issued to the original payment method within 5 business days of receipt.",
			Options: []models.AssistantOption{
				opt("start", "Back"),
			},
		},
		"agent": {
			Content: "I'll connect you with a support agent. Starting a support conversation now.",
			Handoff: true,
		},
	}
	return &Guide{nodes: nodes}
}

// Greeting returns the script's entry node.
func (g *Guide) Greeting() Node { return g.nodes[rootID] }

// Respond looks up the reply for a picked option. ok is false for options
// the script does not know.
func (g *Guide) Respond(optionID string) (Node, bool) {
	n, ok := g.nodes[optionID]
	return n, ok
}
