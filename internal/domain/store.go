package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists what a chat turn needs: conversations, captured agent
// context, generated media and escalation history.
type Store interface {
	ActiveConversation(ctx context.Context, agent, tenantID, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AppendMessages(ctx context.Context, convID string, msgs ...ConversationMessage) error
	ArchiveConversation(ctx context.Context, id string) error

	GetContext(ctx context.Context, tenantID, agent string) (map[string]string, error)
	MergeContext(ctx context.Context, tenantID, agent string, fields map[string]string) (map[string]string, error)
	ResetContext(ctx context.Context, tenantID, agent string) error

	CreateMedia(ctx context.Context, m Media) error
	GetMedia(ctx context.Context, id string) (*Media, error)
	UpdateMedia(ctx context.Context, m Media) error

	LogEscalation(ctx context.Context, e EscalationRecord) error

	Close() error
}

// Conversation is a persisted chat thread between one tenant user and one agent.
// Messages holds the raw stored JSON array; its shape is not trusted.
type Conversation struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"` // active | archived
	Messages   []byte    `json:"-"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type MediaStatus string

const (
	MediaPending   MediaStatus = "pending"
	MediaRunning   MediaStatus = "running"
	MediaCompleted MediaStatus = "completed"
	MediaFailed    MediaStatus = "failed"
)

// Media is an image or video generation request raised by an agent reply.
type Media struct {
	ID          string      `json:"id"`
	Kind        MediaKind   `json:"kind"`
	Agent       string      `json:"agent"`
	TenantID    string      `json:"tenant_id"`
	UserID      string      `json:"user_id"`
	Prompt      string      `json:"prompt"`
	Aspect      string      `json:"aspect"`
	DurationSec int         `json:"duration_sec,omitempty"`
	Style       string      `json:"style,omitempty"`
	Status      MediaStatus `json:"status"`
	URL         string      `json:"url,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// EscalationRecord is the audit row written for every escalation attempt.
type EscalationRecord struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
