// ABOUTME: Store interface and data types for deskwire persistence
// ABOUTME: Defines Conversation, Message, Notification structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConversationClosed is returned when appending to a closed conversation
var ErrConversationClosed = errors.New("conversation is closed")

// ErrDuplicateOpenConversation is returned when creating a conversation for a
// user who already has a non-terminal one. Callers should re-look-up the
// existing conversation and return it (create-or-return-existing).
var ErrDuplicateOpenConversation = errors.New("user already has an open conversation")

// ConversationStatus is the lifecycle state of a conversation.
// Monotonic OPEN -> IN_PROGRESS -> CLOSED, except an explicit reopen.
type ConversationStatus string

const (
	StatusOpen       ConversationStatus = "OPEN"
	StatusInProgress ConversationStatus = "IN_PROGRESS"
	StatusClosed     ConversationStatus = "CLOSED"
)

// Role constants for users
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents an end user or support agent identity
type User struct {
	ID        string
	Name      string
	AvatarURL string
	Role      string // "USER" or "ADMIN"
	CreatedAt time.Time
}

// UserRef is the minimal identity carried inside projections
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation represents a single support conversation.
// AssignedAgentID is nil while the conversation is visible to all active agents.
type Conversation struct {
	ID              string
	UserID          string
	AssignedAgentID *string
	Status          ConversationStatus
	CreatedAt       time.Time
	LastMessageAt   time.Time // sole sort key for queue ordering
}

// Message is a single message within a conversation. CreatedAt is immutable
// and defines intra-conversation order.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	AttachmentURL  *string   `json:"attachment_url,omitempty"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is a cross-cutting alert delivered over the pull-based path.
type Notification struct {
	ID        string
	UserID    string
	Kind      string // e.g. "new-conversation", "deposit-status"
	Body      string
	IsRead    bool
	CreatedAt time.Time
}

// ConversationProjection is the denormalized wire snapshot of a conversation:
// conversation fields + last message preview + unread count + minimal identities.
// It is never persisted; it must always be regenerable from the store.
type ConversationProjection struct {
	ConversationID  string             `json:"conversation_id"`
	UserID          string             `json:"user_id"`
	AssignedAgentID *string            `json:"assigned_agent_id,omitempty"`
	Status          ConversationStatus `json:"status"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	LastMessage     *Message           `json:"last_message,omitempty"`
	UnreadCount     int                `json:"unread_count"`
	User            UserRef            `json:"user"`
	Agent           *UserRef           `json:"agent,omitempty"`
}

// ConversationDetail bundles a conversation with its ordered messages and
// the identities involved, as returned by GetConversation.
type ConversationDetail struct {
	Conversation *Conversation
	Messages     []*Message
	User         *User
	Agent        *User // nil if unassigned
}

// Store defines the interface for conversation, message, and notification persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetOpenConversationByUser(ctx context.Context, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*ConversationDetail, error)
	AssignAgent(ctx context.Context, conversationID, agentID string) error
	SetConversationStatus(ctx context.Context, conversationID string, status ConversationStatus) error

	// Projections (read-your-writes snapshots for the publish path)
	GetProjection(ctx context.Context, conversationID string) (*ConversationProjection, error)
	ListProjections(ctx context.Context) ([]*ConversationProjection, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) error

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, limit, offset int) ([]*Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context, userID string) error

	// Close releases any resources held by the store
	Close() error
}
