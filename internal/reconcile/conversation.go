// ABOUTME: Client-side conversation-detail view merging message-level events
// ABOUTME: Tolerates duplicate and out-of-order delivery without a refetch per event

package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/lumora/deskwire/internal/dedupe"
	"github.com/lumora/deskwire/internal/event"
	"github.com/lumora/deskwire/internal/store"
)

// ConversationView maintains the ordered, deduplicated message list for a
// single open conversation.
type ConversationView struct {
	conversationID string

	mu       sync.Mutex
	seeded   bool
	pending  []*event.Envelope
	messages []*store.Message
	seen     *dedupe.Cache
	logger   *slog.Logger
}

// NewConversationView creates an empty view for one conversation.
// Call Close when leaving the conversation.
func NewConversationView(conversationID string, logger *slog.Logger) *ConversationView {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationView{
		conversationID: conversationID,
		seen:           dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:         logger.With("component", "conversation-view", "conversation_id", conversationID),
	}
}

// Seed installs the initial message list from a direct store fetch and
// replays any events buffered while the fetch was in flight.
func (v *ConversationView) Seed(messages []*store.Message) {
	v.mu.Lock()

	// The view owns its elements: read-flag flips must never leak into the
	// caller's slice, so each message is copied in.
	v.messages = make([]*store.Message, len(messages))
	for i, msg := range messages {
		v.messages[i] = cloneMessage(msg)
	}
	v.sortLocked()
	v.seeded = true

	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, env := range pending {
		v.Apply(env)
	}
}

// Apply merges one incoming envelope. Exhaustive over the event catalogue:
// message-created appends only if the id is absent, message-deleted removes
// by id (a no-op if already absent), messages-read flips local read flags.
// Malformed payloads are dropped with a logged warning and never retried.
func (v *ConversationView) Apply(env *event.Envelope) {
	v.mu.Lock()
	if !v.seeded {
		if len(v.pending) < maxPendingEvents {
			v.pending = append(v.pending, env)
		} else {
			v.logger.Debug("pre-seed buffer full, dropping event", "envelope_id", env.ID)
		}
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	if v.seen.CheckAndMark(env.ID) {
		return
	}

	decoded, err := event.Decode(env)
	if err != nil {
		v.logger.Warn("dropping malformed event", "envelope_id", env.ID, "error", err)
		return
	}

	switch {
	case decoded.MessageCreated != nil:
		v.appendMessage(decoded.MessageCreated)
	case decoded.MessageDeleted != nil:
		v.removeMessage(decoded.MessageDeleted.MessageID)
	case decoded.MessagesRead != nil:
		v.markRead(decoded.MessagesRead.ReaderID)
	case decoded.ConversationUpdate != nil:
		// Queue-level projection; not material to the detail view.
	}
}

// appendMessage adds a message unless its id is already present
// (duplicate-delivery tolerance), then restores chronological order.
func (v *ConversationView) appendMessage(msg *store.Message) {
	if msg.ConversationID != v.conversationID {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, existing := range v.messages {
		if existing.ID == msg.ID {
			return
		}
	}
	v.messages = append(v.messages, cloneMessage(msg))
	v.sortLocked()
}

// removeMessage deletes by id. A second delete for the same id is a no-op.
func (v *ConversationView) removeMessage(messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, existing := range v.messages {
		if existing.ID == messageID {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			return
		}
	}
}

// markRead flips the read flag on every message not sent by the reader.
func (v *ConversationView) markRead(readerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, msg := range v.messages {
		if msg.SenderID != readerID {
			msg.IsRead = true
		}
	}
}

// sortLocked sorts ascending by CreatedAt with id as tiebreaker.
// Must be called with mu held.
func (v *ConversationView) sortLocked() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		if v.messages[i].CreatedAt.Equal(v.messages[j].CreatedAt) {
			return v.messages[i].ID < v.messages[j].ID
		}
		return v.messages[i].CreatedAt.Before(v.messages[j].CreatedAt)
	})
}

// Messages returns the ordered message list. Elements are copies, so later
// merges never mutate a snapshot already handed out.
func (v *ConversationView) Messages() []*store.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*store.Message, len(v.messages))
	for i, msg := range v.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg *store.Message) *store.Message {
	c := *msg
	return &c
}

// Close releases the dedupe cache. Safe to call multiple times.
func (v *ConversationView) Close() {
	v.seen.Close()
}
