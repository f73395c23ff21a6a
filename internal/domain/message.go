package domain

import (
	"errors"
	"time"
)

// ErrUnknownAgent is returned when a chat names a persona that is not loaded.
var ErrUnknownAgent = errors.New("unknown agent")

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// Conversational reports whether r may appear in history sent to a model.
// System prompts are supplied separately and never replayed from history.
func (r Role) Conversational() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult:
		return true
	}
	return false
}

// ConversationMessage is a single validated turn of chat history.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InboundMessage is a chat turn arriving from a user-facing channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Agent     string // persona the message is addressed to; empty = channel default
	Content   string
	Timestamp time.Time
}

// OutboundMessage is a reply routed back to the originating channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
