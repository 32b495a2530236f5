// ABOUTME: Publishes conversation and message events after committed store mutations
// ABOUTME: Recomputes the projection per publish and fans out to the correct channel set

package publisher

import (
	"context"
	"log/slog"

	"github.com/lumora/deskwire/internal/broker"
	"github.com/lumora/deskwire/internal/channel"
	"github.com/lumora/deskwire/internal/event"
	"github.com/lumora/deskwire/internal/store"
)

// ProjectionStore defines what the publisher needs from storage: the
// read-your-writes snapshot query issued immediately after each mutation.
type ProjectionStore interface {
	GetProjection(ctx context.Context, conversationID string) (*store.ConversationProjection, error)
}

// Roster reports which agents are currently active. It is re-queried per
// publish, never cached, so a stale roster can't route events to agents who
// have gone away.
type Roster interface {
	ActiveAgents() []string
}

// Publisher pushes events to the transport after store mutations commit.
// Every method is called publish-after-commit: a subscriber that receives an
// event may always immediately re-fetch the corresponding row and observe
// consistent state. Publish failures are logged and swallowed; durability
// lives in the store, and subscribers recover missed events by refetching.
type Publisher struct {
	store  ProjectionStore
	broker broker.Broker
	roster Roster
	logger *slog.Logger
}

// New creates a Publisher. Pass nil logger for default.
func New(projStore ProjectionStore, b broker.Broker, roster Roster, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:  projStore,
		broker: b,
		roster: roster,
		logger: logger.With("component", "publisher"),
	}
}

// MessageCreated announces a newly appended message: the raw message goes to
// the conversation's own channel so both the end user and a viewing agent see
// it live, and the refreshed projection goes to the queue channels.
func (p *Publisher) MessageCreated(ctx context.Context, msg *store.Message) {
	env, err := event.NewMessageCreated(msg)
	if err != nil {
		p.logger.Error("failed to build message-created event",
			"error", err,
			"message_id", msg.ID)
		return
	}
	p.publish(ctx, channel.Conversation(msg.ConversationID), env)

	p.publishQueueUpdate(ctx, msg.ConversationID)
}

// MessageDeleted announces the compensating event for a hard delete, then
// refreshes the queue projection (the preview may have pointed at the
// deleted message).
func (p *Publisher) MessageDeleted(ctx context.Context, conversationID, messageID string) {
	env, err := event.NewMessageDeleted(conversationID, messageID)
	if err != nil {
		p.logger.Error("failed to build message-deleted event",
			"error", err,
			"message_id", messageID)
		return
	}
	p.publish(ctx, channel.Conversation(conversationID), env)

	p.publishQueueUpdate(ctx, conversationID)
}

// MessagesRead announces a read receipt on the conversation channel and
// refreshes the queue projection so unread badges drop.
func (p *Publisher) MessagesRead(ctx context.Context, conversationID, readerID string) {
	env, err := event.NewMessagesRead(conversationID, readerID)
	if err != nil {
		p.logger.Error("failed to build messages-read event",
			"error", err,
			"conversation_id", conversationID)
		return
	}
	p.publish(ctx, channel.Conversation(conversationID), env)

	p.publishQueueUpdate(ctx, conversationID)
}

// ConversationUpdated refreshes the queue projection after a conversation
// level mutation (create, assign, close, reopen).
func (p *Publisher) ConversationUpdated(ctx context.Context, conversationID string) {
	p.publishQueueUpdate(ctx, conversationID)
}

// publishQueueUpdate recomputes the projection and routes it:
// an assigned conversation goes only to the assignee's channel; an unassigned
// one fans out over every currently active agent at publish time.
func (p *Publisher) publishQueueUpdate(ctx context.Context, conversationID string) {
	proj, err := p.store.GetProjection(ctx, conversationID)
	if err != nil {
		p.logger.Error("failed to recompute projection",
			"error", err,
			"conversation_id", conversationID)
		return
	}

	env, err := event.NewConversationUpdate(proj)
	if err != nil {
		p.logger.Error("failed to build conversation-update event",
			"error", err,
			"conversation_id", conversationID)
		return
	}

	if proj.AssignedAgentID != nil {
		p.publish(ctx, channel.Agent(*proj.AssignedAgentID), env)
		return
	}

	agents := p.roster.ActiveAgents()
	p.logger.Debug("fanning out to active agents",
		"conversation_id", conversationID,
		"agents", len(agents))
	for _, agentID := range agents {
		p.publish(ctx, channel.Agent(agentID), env)
	}
}

// publish sends one envelope, logging and swallowing any transport failure.
func (p *Publisher) publish(ctx context.Context, channelName string, env *event.Envelope) {
	if err := p.broker.Publish(ctx, channelName, env); err != nil {
		p.logger.Warn("publish failed, subscribers will recover by refetch",
			"error", err,
			"channel", channelName,
			"kind", env.Kind)
	}
}
