// ABOUTME: Wire event catalogue for the pub/sub transport
// ABOUTME: One tagged variant per event kind, decoded exhaustively by subscribers

package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumora/deskwire/internal/store"
)

// Kind tags the payload variant carried by an Envelope.
type Kind string

const (
	// KindMessageCreated carries a full Message; published to the
	// conversation's own channel.
	KindMessageCreated Kind = "message-created"

	// KindMessageDeleted is the compensating event for a hard delete.
	KindMessageDeleted Kind = "message-deleted"

	// KindMessagesRead signals a read receipt for a conversation.
	KindMessagesRead Kind = "messages-read"

	// KindConversationUpdate carries a full ConversationProjection;
	// published to agent queue channels.
	KindConversationUpdate Kind = "conversation-update"
)

// Envelope is the unit published to a channel. The payload shape is
// determined by Kind; Decode returns the typed variant.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MessageDeleted is the payload for KindMessageDeleted.
type MessageDeleted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MessagesRead is the payload for KindMessagesRead.
type MessagesRead struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
}

// NewMessageCreated builds an envelope carrying a full message.
func NewMessageCreated(msg *store.Message) (*Envelope, error) {
	return newEnvelope(KindMessageCreated, msg)
}

// NewMessageDeleted builds the compensating envelope for a hard delete.
func NewMessageDeleted(conversationID, messageID string) (*Envelope, error) {
	return newEnvelope(KindMessageDeleted, &MessageDeleted{
		MessageID:      messageID,
		ConversationID: conversationID,
	})
}

// NewMessagesRead builds a read-receipt envelope.
func NewMessagesRead(conversationID, readerID string) (*Envelope, error) {
	return newEnvelope(KindMessagesRead, &MessagesRead{
		ConversationID: conversationID,
		ReaderID:       readerID,
	})
}

// NewConversationUpdate builds a queue-level projection envelope.
func NewConversationUpdate(proj *store.ConversationProjection) (*Envelope, error) {
	return newEnvelope(KindConversationUpdate, proj)
}

func newEnvelope(kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return &Envelope{
		ID:      uuid.New().String(),
		Kind:    kind,
		Payload: raw,
	}, nil
}

// Decoded is the sum of all payload variants. Exactly one field is non-nil,
// matching the envelope's Kind.
type Decoded struct {
	MessageCreated     *store.Message
	MessageDeleted     *MessageDeleted
	MessagesRead       *MessagesRead
	ConversationUpdate *store.ConversationProjection
}

// Decode unmarshals the envelope payload into its typed variant.
// An unknown kind or malformed payload is an error; subscribers log and
// drop such envelopes rather than crash or retry.
func Decode(env *Envelope) (*Decoded, error) {
	switch env.Kind {
	case KindMessageCreated:
		var msg store.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decoding message-created payload: %w", err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("message-created payload missing message id")
		}
		return &Decoded{MessageCreated: &msg}, nil

	case KindMessageDeleted:
		var del MessageDeleted
		if err := json.Unmarshal(env.Payload, &del); err != nil {
			return nil, fmt.Errorf("decoding message-deleted payload: %w", err)
		}
		if del.MessageID == "" {
			return nil, fmt.Errorf("message-deleted payload missing message id")
		}
		return &Decoded{MessageDeleted: &del}, nil

	case KindMessagesRead:
		var read MessagesRead
		if err := json.Unmarshal(env.Payload, &read); err != nil {
			return nil, fmt.Errorf("decoding messages-read payload: %w", err)
		}
		if read.ConversationID == "" {
			return nil, fmt.Errorf("messages-read payload missing conversation id")
		}
		return &Decoded{MessagesRead: &read}, nil

	case KindConversationUpdate:
		var proj store.ConversationProjection
		if err := json.Unmarshal(env.Payload, &proj); err != nil {
			return nil, fmt.Errorf("decoding conversation-update payload: %w", err)
		}
		if proj.ConversationID == "" {
			return nil, fmt.Errorf("conversation-update payload missing conversation id")
		}
		return &Decoded{ConversationUpdate: &proj}, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
