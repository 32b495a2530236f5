// ABOUTME: In-memory fan-out Broker for single-process deployments and tests
// ABOUTME: Publishes envelopes to all subscribers of a channel, dropping for slow consumers

package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lumora/deskwire/internal/event"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Memory is an in-process Broker. Subscribers register for a channel name and
// receive envelopes as they are published.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *event.Envelope // channelName -> subID -> ch
	logger      *slog.Logger
}

// NewMemory creates an in-memory broker. Pass nil logger for default.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subscribers: make(map[string]map[string]chan *event.Envelope),
		logger:      logger.With("component", "broker"),
	}
}

// Subscribe registers a subscriber for envelopes on the given channel.
// Returns a receive channel and a subscription ID for later unsubscription.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Memory) Subscribe(ctx context.Context, channelName string) (<-chan *event.Envelope, string, error) {
	subID := uuid.New().String()
	ch := make(chan *event.Envelope, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[channelName]; !ok {
		b.subscribers[channelName] = make(map[string]chan *event.Envelope)
	}
	b.subscribers[channelName][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"channel", channelName,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(channelName, subID)
	}()

	return ch, subID, nil
}

// Publish sends an envelope to all subscribers of the given channel.
// Non-blocking: envelopes are dropped for subscribers whose channels are full.
// Sends happen under the read lock; Unsubscribe and Close take the write lock
// before closing subscriber channels, so a publish can never race a close.
func (b *Memory) Publish(_ context.Context, channelName string, env *event.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[channelName] {
		select {
		case ch <- env:
			// Sent
		default:
			// Subscriber channel full, drop envelope for this subscriber
			b.logger.Debug("dropped envelope for slow subscriber",
				"channel", channelName,
				"envelope_id", env.ID)
		}
	}
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Memory) Unsubscribe(channelName, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channelName]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty channel entries
	if len(subs) == 0 {
		delete(b.subscribers, channelName)
	}

	b.logger.Debug("subscriber removed",
		"channel", channelName,
		"sub_id", subID)
}

// Close shuts down the broker and closes all subscriber channels.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, name)
	}

	b.logger.Debug("broker closed")
	return nil
}
