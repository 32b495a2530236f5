// ABOUTME: Tests for the two-slot optimistic value
// ABOUTME: Covers override shadowing, authoritative wins, and concurrent access

package optimistic

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_OverrideShadowsBase(t *testing.T) {
	v := New(5)
	assert.Equal(t, 5, v.Get())
	assert.False(t, v.Pending())

	v.Override(0)
	assert.Equal(t, 0, v.Get())
	assert.True(t, v.Pending())
}

func TestValue_AuthoritativeClearsOverride(t *testing.T) {
	v := New(5)
	v.Override(0)

	// Server confirms a different count; it wins
	v.Set(2)
	assert.Equal(t, 2, v.Get())
	assert.False(t, v.Pending())
}

func TestValue_AuthoritativeWinsEvenWhenStale(t *testing.T) {
	v := New(5)

	// The refresh that raced with the local action still clears the override.
	// Worst case the stale number shows for one poll cycle.
	v.Override(0)
	v.Set(5)
	assert.Equal(t, 5, v.Get())
}

func TestValue_Concurrency(t *testing.T) {
	v := New(0)

	var wg sync.WaitGroup
	for i := range 8 {
		n := i
		wg.Go(func() {
			for j := range 100 {
				if j%2 == 0 {
					v.Set(n)
				} else {
					v.Override(n)
				}
				v.Get()
				v.Pending()
			}
		})
	}
	wg.Wait()
}
