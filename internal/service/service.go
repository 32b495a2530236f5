// ABOUTME: Conversation service: authorization, store mutations, publish-after-commit
// ABOUTME: Every mutation persists first, then notifies subscribers via the publisher

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/store"
)

// Service errors
var (
	// ErrUnauthenticated is returned when no identity is attached to the context.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrPermissionDenied is returned when the caller's role or ownership does
	// not allow the operation.
	ErrPermissionDenied = errors.New("permission denied")
)

// EventPublisher is what the service needs from the publish side. Methods are
// invoked strictly after the corresponding store mutation commits.
type EventPublisher interface {
	MessageCreated(ctx context.Context, msg *store.Message)
	MessageDeleted(ctx context.Context, conversationID, messageID string)
	MessagesRead(ctx context.Context, conversationID, readerID string)
	ConversationUpdated(ctx context.Context, conversationID string)
}

// Roster reports currently active agents, used to target new-conversation
// notifications.
type Roster interface {
	ActiveAgents() []string
}

// Service implements the conversation operations on top of the store.
type Service struct {
	store  store.Store
	pub    EventPublisher
	roster Roster
	logger *slog.Logger
}

// New creates a Service. Pass nil logger for default.
func New(st store.Store, pub EventPublisher, roster Roster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		pub:    pub,
		roster: roster,
		logger: logger.With("component", "service"),
	}
}

// StartConversation returns the caller's open conversation, creating one if
// none exists. A user holds at most one non-terminal conversation; two
// concurrent starts converge on the same row via the unique-index retry.
func (s *Service) StartConversation(ctx context.Context) (*store.Conversation, error) {
	id, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetOpenConversationByUser(ctx, id.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up open conversation: %w", err)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:            uuid.New().String(),
		UserID:        id.ID,
		Status:        store.StatusOpen,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateOpenConversation) {
			// Lost the race against a concurrent start; the winner's row is
			// the caller's conversation.
			return s.store.GetOpenConversationByUser(ctx, id.ID)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.notifyNewConversation(ctx, conv)
	s.pub.ConversationUpdated(ctx, conv.ID)

	s.logger.Info("conversation started", "conversation_id", conv.ID, "user_id", id.ID)
	return conv, nil
}

// notifyNewConversation records a pull-path notification for each currently
// active agent. Failures are logged and swallowed; the queue event already
// carries the real signal.
func (s *Service) notifyNewConversation(ctx context.Context, conv *store.Conversation) {
	for _, agentID := range s.roster.ActiveAgents() {
		n := &store.Notification{
			ID:        uuid.New().String(),
			UserID:    agentID,
			Kind:      "new-conversation",
			Body:      conv.ID,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			s.logger.Warn("failed to create notification",
				"error", err,
				"agent_id", agentID)
		}
	}
}

// GetConversation returns the conversation with its ordered messages. Users
// may only fetch their own; admins may fetch any.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*store.ConversationDetail, error) {
	id, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() && detail.Conversation.UserID != id.ID {
		return nil, ErrPermissionDenied
	}
	return detail, nil
}

// ListConversations returns queue projections for every conversation,
// newest activity first. Admin only.
func (s *Service) ListConversations(ctx context.Context) ([]*store.ConversationProjection, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.store.ListProjections(ctx)
}

// SendMessage appends a message to the conversation and publishes it after
// the row commits. Participants only: the owning user or any admin.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string, attachmentURL *string) (*store.Message, error) {
	id, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, id, conversationID); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       id.ID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.pub.MessageCreated(ctx, msg)
	return msg, nil
}

// DeleteMessage hard-deletes a message and publishes the compensating event
// so caches drop it. Admin only. Deleting an already deleted message returns
// store.ErrNotFound.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	s.pub.MessageDeleted(ctx, msg.ConversationID, messageID)
	s.logger.Info("message deleted", "message_id", messageID, "conversation_id", msg.ConversationID)
	return nil
}

// MarkRead marks every message in the conversation not sent by the caller as
// read, then publishes the receipt. Idempotent.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	id, err := s.identity(ctx)
	if err != nil {
		return err
	}

	// Fetch unconditionally so an unknown conversation fails with
	// store.ErrNotFound instead of publishing a receipt nobody can use.
	detail, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !id.IsAdmin() && detail.Conversation.UserID != id.ID {
		return ErrPermissionDenied
	}

	if err := s.store.MarkMessagesRead(ctx, conversationID, id.ID); err != nil {
		return err
	}

	s.pub.MessagesRead(ctx, conversationID, id.ID)
	return nil
}

// Assign claims a conversation for an agent, narrowing queue delivery to that
// agent. Admin only.
func (s *Service) Assign(ctx context.Context, conversationID, agentID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	if err := s.store.AssignAgent(ctx, conversationID, agentID); err != nil {
		return err
	}

	s.pub.ConversationUpdated(ctx, conversationID)
	s.logger.Info("conversation assigned", "conversation_id", conversationID, "agent_id", agentID)
	return nil
}

// Close marks the conversation CLOSED. Admin only. Idempotent.
func (s *Service) Close(ctx context.Context, conversationID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	if err := s.store.SetConversationStatus(ctx, conversationID, store.StatusClosed); err != nil {
		return err
	}

	s.pub.ConversationUpdated(ctx, conversationID)
	s.logger.Info("conversation closed", "conversation_id", conversationID)
	return nil
}

// Reopen moves a closed conversation back to OPEN. Admin only. Fails with
// store.ErrDuplicateOpenConversation when the user has since opened another
// conversation, which would otherwise break the one-open-per-user invariant.
func (s *Service) Reopen(ctx context.Context, conversationID string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}

	detail, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if detail.Conversation.Status != store.StatusClosed {
		return nil
	}

	if existing, err := s.store.GetOpenConversationByUser(ctx, detail.Conversation.UserID); err == nil && existing.ID != conversationID {
		return store.ErrDuplicateOpenConversation
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("checking open conversation: %w", err)
	}

	if err := s.store.SetConversationStatus(ctx, conversationID, store.StatusOpen); err != nil {
		return err
	}

	s.pub.ConversationUpdated(ctx, conversationID)
	s.logger.Info("conversation reopened", "conversation_id", conversationID)
	return nil
}

// identity extracts the verified caller or fails with ErrUnauthenticated.
func (s *Service) identity(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// requireAdmin fails unless the caller holds the admin role.
func (s *Service) requireAdmin(ctx context.Context) error {
	id, err := s.identity(ctx)
	if err != nil {
		return err
	}
	if !id.IsAdmin() {
		return ErrPermissionDenied
	}
	return nil
}

// requireParticipant fails unless the caller owns the conversation or is an
// admin.
func (s *Service) requireParticipant(ctx context.Context, id auth.Identity, conversationID string) error {
	if id.IsAdmin() {
		return nil
	}
	detail, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if detail.Conversation.UserID != id.ID {
		return ErrPermissionDenied
	}
	return nil
}
