// ABOUTME: Tests for envelope construction and tagged-variant decoding

package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/deskwire/internal/store"
)

func TestMessageCreatedRoundTrip(t *testing.T) {
	msg := &store.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}

	env, err := NewMessageCreated(msg)
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)
	assert.Equal(t, KindMessageCreated, env.Kind)

	decoded, err := Decode(env)
	require.NoError(t, err)
	require.NotNil(t, decoded.MessageCreated)
	assert.Equal(t, "msg-1", decoded.MessageCreated.ID)
	assert.Equal(t, "hello", decoded.MessageCreated.Content)
	assert.Nil(t, decoded.ConversationUpdate)
}

func TestMessageDeletedRoundTrip(t *testing.T) {
	env, err := NewMessageDeleted("conv-1", "msg-1")
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	require.NotNil(t, decoded.MessageDeleted)
	assert.Equal(t, "msg-1", decoded.MessageDeleted.MessageID)
	assert.Equal(t, "conv-1", decoded.MessageDeleted.ConversationID)
}

func TestMessagesReadRoundTrip(t *testing.T) {
	env, err := NewMessagesRead("conv-1", "agent-1")
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	require.NotNil(t, decoded.MessagesRead)
	assert.Equal(t, "agent-1", decoded.MessagesRead.ReaderID)
}

func TestConversationUpdateRoundTrip(t *testing.T) {
	proj := &store.ConversationProjection{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Status:         store.StatusOpen,
		LastMessageAt:  time.Now().UTC(),
		UnreadCount:    3,
		User:           store.UserRef{ID: "user-1", Name: "Ada"},
	}

	env, err := NewConversationUpdate(proj)
	require.NoError(t, err)

	decoded, err := Decode(env)
	require.NoError(t, err)
	require.NotNil(t, decoded.ConversationUpdate)
	assert.Equal(t, 3, decoded.ConversationUpdate.UnreadCount)
	assert.Equal(t, "Ada", decoded.ConversationUpdate.User.Name)
}

func TestDecode_UnknownKind(t *testing.T) {
	env := &Envelope{ID: "x", Kind: "wallet-exploded", Payload: json.RawMessage(`{}`)}

	_, err := Decode(env)
	assert.Error(t, err)
}

func TestDecode_MalformedPayload(t *testing.T) {
	env := &Envelope{ID: "x", Kind: KindMessageCreated, Payload: json.RawMessage(`{not json`)}

	_, err := Decode(env)
	assert.Error(t, err)
}

func TestDecode_MissingRequiredField(t *testing.T) {
	env := &Envelope{ID: "x", Kind: KindMessageDeleted, Payload: json.RawMessage(`{}`)}

	_, err := Decode(env)
	assert.Error(t, err)
}

func TestEnvelopeIDsUnique(t *testing.T) {
	a, err := NewMessagesRead("conv-1", "u")
	require.NoError(t, err)
	b, err := NewMessagesRead("conv-1", "u")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
