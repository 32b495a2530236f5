// ABOUTME: Tests for identity propagation via context
// ABOUTME: Covers round trip, absence, and the panicking accessor

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumora/deskwire/internal/store"
)

func TestContext_RoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{ID: "agent-1", Role: store.RoleAdmin})

	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "agent-1", id.ID)
	assert.True(t, id.IsAdmin())
}

func TestContext_Absent(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})
}
