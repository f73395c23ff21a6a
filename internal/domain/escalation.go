package domain

import "context"

// Escalation asks a human to step into a conversation.
type Escalation struct {
	Agent    string
	TenantID string
	UserID   string
	Reason   string
	Excerpt  []ConversationMessage
	Extra    map[string]string
}

// Escalator delivers escalations to whoever is on call (Slack today).
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}
