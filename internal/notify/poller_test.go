// ABOUTME: Tests for the notification poller and service
// ABOUTME: Covers badge overrides, authoritative refresh, and caller scoping

package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/service"
	"github.com/lumora/deskwire/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAgent(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.CreateUser(context.Background(), &store.User{
		ID:        id,
		Name:      "name-" + id,
		Role:      store.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	}))
}

func seedNotification(t *testing.T, st store.Store, userID, kind string) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, st.CreateNotification(context.Background(), &store.Notification{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Body:      "body",
		CreatedAt: time.Now().UTC(),
	}))
	return id
}

func TestPoller_BadgeFollowsStore(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	seedNotification(t, st, "agent-1", "new-conversation")
	seedNotification(t, st, "agent-1", "new-conversation")

	p := NewPoller(st, "agent-1", time.Hour, nil, nil)
	assert.Equal(t, 0, p.Badge())

	p.Poll(t.Context())
	assert.Equal(t, 2, p.Badge())
}

func TestPoller_MarkAllReadOverridesImmediately(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	seedNotification(t, st, "agent-1", "new-conversation")

	ctx := t.Context()
	p := NewPoller(st, "agent-1", time.Hour, nil, nil)
	p.Poll(ctx)
	require.Equal(t, 1, p.Badge())

	// Badge drops without waiting for the next tick
	require.NoError(t, p.MarkAllRead(ctx))
	assert.Equal(t, 0, p.Badge())

	// And the next authoritative poll agrees
	p.Poll(ctx)
	assert.Equal(t, 0, p.Badge())
}

func TestPoller_MarkReadDecrements(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	id1 := seedNotification(t, st, "agent-1", "new-conversation")
	seedNotification(t, st, "agent-1", "new-conversation")

	ctx := t.Context()
	p := NewPoller(st, "agent-1", time.Hour, nil, nil)
	p.Poll(ctx)
	require.Equal(t, 2, p.Badge())

	require.NoError(t, p.MarkRead(ctx, id1))
	assert.Equal(t, 1, p.Badge())

	p.Poll(ctx)
	assert.Equal(t, 1, p.Badge())
}

func TestPoller_DeliversSnapshots(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	seedNotification(t, st, "agent-1", "new-conversation")

	var got Snapshot
	p := NewPoller(st, "agent-1", time.Hour, func(s Snapshot) { got = s }, nil)
	p.Poll(t.Context())

	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "new-conversation", got.Notifications[0].Kind)
	assert.Equal(t, 1, got.Unread)
}

func TestService_ScopedToCaller(t *testing.T) {
	st := newTestStore(t)
	seedAgent(t, st, "agent-1")
	seedAgent(t, st, "agent-2")
	seedNotification(t, st, "agent-1", "new-conversation")
	seedNotification(t, st, "agent-2", "new-conversation")

	svc := NewService(st)
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: "agent-1", Role: store.RoleAdmin})

	list, err := svc.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "agent-1", list[0].UserID)

	count, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.Clear(ctx))
	count, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The other inbox is untouched
	other := auth.WithIdentity(context.Background(), auth.Identity{ID: "agent-2", Role: store.RoleAdmin})
	count, err = svc.UnreadCount(other)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_RequiresIdentity(t *testing.T) {
	svc := NewService(newTestStore(t))

	_, err := svc.List(context.Background(), 0, 0)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	err = svc.MarkAllRead(context.Background())
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}
