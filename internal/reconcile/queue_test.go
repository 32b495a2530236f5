// ABOUTME: Tests for the queue view merge semantics
// ABOUTME: Covers idempotency, order independence, pre-seed buffering, and malformed drops

package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/deskwire/internal/event"
	"github.com/lumora/deskwire/internal/store"
)

func projAt(convID string, lastMessageAt time.Time, unread int) *store.ConversationProjection {
	return &store.ConversationProjection{
		ConversationID: convID,
		UserID:         "user-" + convID,
		Status:         store.StatusOpen,
		LastMessageAt:  lastMessageAt,
		UnreadCount:    unread,
		User:           store.UserRef{ID: "user-" + convID, Name: "User"},
	}
}

func updateEnvelope(t *testing.T, proj *store.ConversationProjection) *event.Envelope {
	t.Helper()
	env, err := event.NewConversationUpdate(proj)
	require.NoError(t, err)
	return env
}

func ids(projections []*store.ConversationProjection) []string {
	out := make([]string, len(projections))
	for i, p := range projections {
		out[i] = p.ConversationID
	}
	return out
}

func TestQueueView_MergeReplacesInPlace(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()
	v.Seed([]*store.ConversationProjection{
		projAt("conv-a", base.Add(-time.Minute), 1),
		projAt("conv-b", base.Add(-2*time.Minute), 0),
	})

	// conv-b gets a new message and jumps to the top
	v.Apply(updateEnvelope(t, projAt("conv-b", base, 1)))

	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, []string{"conv-b", "conv-a"}, ids(list))
	assert.Equal(t, 1, list[0].UnreadCount)
}

func TestQueueView_MergePrependsUnknown(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()
	v.Seed([]*store.ConversationProjection{
		projAt("conv-a", base, 0),
	})

	v.Apply(updateEnvelope(t, projAt("conv-new", base.Add(time.Second), 1)))

	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-new", list[0].ConversationID)
}

func TestQueueView_IdempotentApply(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()
	v.Seed([]*store.ConversationProjection{projAt("conv-a", base.Add(-time.Minute), 0)})

	proj := projAt("conv-a", base, 3)

	// Same snapshot delivered twice under distinct envelope ids: applying it
	// again must not change anything.
	v.Apply(updateEnvelope(t, proj))
	first := v.List()
	v.Apply(updateEnvelope(t, proj))
	second := v.List()

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, 3, second[0].UnreadCount)
}

func TestQueueView_DuplicateEnvelopeSuppressed(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()
	v.Seed(nil)

	env := updateEnvelope(t, projAt("conv-a", base, 1))
	v.Apply(env)
	v.Apply(env)

	assert.Len(t, v.List(), 1)
}

func TestQueueView_OrderIndependent(t *testing.T) {
	base := time.Now().UTC()
	older := updateEnvelope(t, projAt("conv-a", base.Add(-time.Hour), 0))
	newer := updateEnvelope(t, projAt("conv-b", base, 2))

	forward := NewQueueView(nil)
	defer forward.Close()
	forward.Seed(nil)
	forward.Apply(older)
	forward.Apply(newer)

	backward := NewQueueView(nil)
	defer backward.Close()
	backward.Seed(nil)
	backward.Apply(newer)
	backward.Apply(older)

	assert.Equal(t, ids(forward.List()), ids(backward.List()))
	assert.Equal(t, []string{"conv-b", "conv-a"}, ids(forward.List()))
}

func TestQueueView_BuffersBeforeSeed(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()

	// Event races ahead of the seed fetch
	v.Apply(updateEnvelope(t, projAt("conv-live", base, 1)))
	assert.Empty(t, v.List())

	v.Seed([]*store.ConversationProjection{
		projAt("conv-seeded", base.Add(-time.Minute), 0),
	})

	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, "conv-live", list[0].ConversationID)
}

func TestQueueView_SeedSupersedesBufferedSnapshot(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()

	// The buffered snapshot and the seed describe the same conversation; the
	// replay replaces in place, leaving exactly one row.
	v.Apply(updateEnvelope(t, projAt("conv-a", base, 2)))
	v.Seed([]*store.ConversationProjection{projAt("conv-a", base, 2)})

	list := v.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)
}

func TestQueueView_MalformedDropped(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()
	v.Seed(nil)

	v.Apply(&event.Envelope{
		ID:      "bad-1",
		Kind:    event.KindConversationUpdate,
		Payload: json.RawMessage(`{"conversation_id": ""}`),
	})
	v.Apply(&event.Envelope{
		ID:      "bad-2",
		Kind:    "mystery-kind",
		Payload: json.RawMessage(`{}`),
	})

	assert.Empty(t, v.List())
}

func TestQueueView_UnreadTotal(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()

	base := time.Now().UTC()
	v.Seed([]*store.ConversationProjection{
		projAt("conv-a", base, 2),
		projAt("conv-b", base.Add(-time.Minute), 3),
	})

	assert.Equal(t, 5, v.UnreadTotal())

	v.Apply(updateEnvelope(t, projAt("conv-a", base.Add(time.Second), 0)))
	assert.Equal(t, 3, v.UnreadTotal())
}

func TestQueueView_IgnoresMessageEvents(t *testing.T) {
	v := NewQueueView(nil)
	defer v.Close()
	v.Seed(nil)

	env, err := event.NewMessageCreated(&store.Message{
		ID:             "msg-1",
		ConversationID: "conv-a",
		SenderID:       "user-1",
		Content:        "hi",
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	v.Apply(env)
	assert.Empty(t, v.List())
}
