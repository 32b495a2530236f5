// ABOUTME: Tests for the in-memory Broker fan-out
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/deskwire/internal/event"
)

func makeEnvelope(id string) *event.Envelope {
	return &event.Envelope{
		ID:      id,
		Kind:    event.KindMessagesRead,
		Payload: json.RawMessage(`{"conversation_id":"conv-1","reader_id":"user-1"}`),
	}
}

func TestMemory_SingleSubscriberReceivesEnvelope(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()

	ch, _, err := b.Subscribe(ctx, "chat:conv-1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "chat:conv-1", makeEnvelope("env-1")))

	select {
	case received := <-ch:
		assert.Equal(t, "env-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestMemory_MultipleSubscribersReceiveSameEnvelope(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _, _ := b.Subscribe(ctx, "agent:a-1")
	ch2, _, _ := b.Subscribe(ctx, "agent:a-1")
	ch3, _, _ := b.Subscribe(ctx, "agent:a-1")

	require.NoError(t, b.Publish(ctx, "agent:a-1", makeEnvelope("env-2")))

	for i, ch := range []<-chan *event.Envelope{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "env-2", received.ID, "subscriber %d got wrong envelope", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestMemory_ChannelsAreIsolated(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _, _ := b.Subscribe(ctx, "agent:a-1")
	ch2, _, _ := b.Subscribe(ctx, "agent:a-2")

	require.NoError(t, b.Publish(ctx, "agent:a-1", makeEnvelope("env-3")))

	select {
	case received := <-ch1:
		assert.Equal(t, "env-3", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for agent:a-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for agent:a-2 should not receive envelopes for agent:a-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no envelope
	}
}

func TestMemory_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()

	// Subscribe but never read from ch1 (slow consumer)
	_, _, _ = b.Subscribe(ctx, "agent:a-1")
	ch2, _, _ := b.Subscribe(ctx, "agent:a-1")

	// Publish more envelopes than the buffer size to overflow ch1
	for i := range 100 {
		require.NoError(t, b.Publish(ctx, "agent:a-1", makeEnvelope("overflow-"+string(rune('0'+i%10)))))
	}

	receivedCount := 0
	for {
		select {
		case <-ch2:
			receivedCount++
		case <-time.After(200 * time.Millisecond):
			goto done
		}
	}
done:
	assert.Greater(t, receivedCount, 0, "fast consumer should receive at least some envelopes")
}

func TestMemory_ContextCancellationCleansUp(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID, _ := b.Subscribe(ctx, "agent:a-1")

	b.mu.RLock()
	_, exists := b.subscribers["agent:a-1"][subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	// Give cleanup goroutine time to run
	time.Sleep(50 * time.Millisecond)

	b.mu.RLock()
	subs, chanExists := b.subscribers["agent:a-1"]
	if chanExists {
		_, subExists := subs[subID]
		assert.False(t, subExists, "subscription should be removed after context cancel")
	}
	b.mu.RUnlock()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestMemory_ManualUnsubscribe(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()

	ch, subID, _ := b.Subscribe(ctx, "chat:conv-1")

	b.Unsubscribe("chat:conv-1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing should not panic
	require.NoError(t, b.Publish(ctx, "chat:conv-1", makeEnvelope("after-unsub")))
}

func TestMemory_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewMemory(nil)

	ch1, _, _ := b.Subscribe(t.Context(), "agent:a-1")
	ch2, _, _ := b.Subscribe(t.Context(), "agent:a-2")

	require.NoError(t, b.Close())

	for i, ch := range []<-chan *event.Envelope{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestMemory_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _, _ := b.Subscribe(ctx, "agent:concurrent")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				_ = b.Publish(ctx, "agent:concurrent", makeEnvelope("concurrent-env"))
			}
		})
	}

	wg.Wait()
	// If we get here without deadlock or panic, the test passes
}

func TestMemory_PublishRacingUnsubscribe(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	ctx := t.Context()
	var wg sync.WaitGroup

	// Publishers hammer the channel while subscribers constantly tear down.
	// A send racing a close panics; this must survive the race detector.
	for range 8 {
		wg.Go(func() {
			for range 200 {
				_ = b.Publish(ctx, "agent:churn", makeEnvelope("churn-env"))
			}
		})
	}

	for range 4 {
		wg.Go(func() {
			for range 100 {
				_, subID, err := b.Subscribe(ctx, "agent:churn")
				if err != nil {
					return
				}
				b.Unsubscribe("agent:churn", subID)
			}
		})
	}

	wg.Wait()
}

func TestMemory_PublishToNonexistentChannel(t *testing.T) {
	b := NewMemory(nil)
	defer b.Close()

	// Should not panic
	require.NoError(t, b.Publish(t.Context(), "chat:nobody-listening", makeEnvelope("env-nowhere")))
}
