// ABOUTME: Broker interface for channel-based publish/subscribe transport
// ABOUTME: Implemented in-memory for single-process and over AMQP for brokered deployments

package broker

import (
	"context"

	"github.com/lumora/deskwire/internal/event"
)

// Broker is the channel-based pub/sub transport the sync core is built on.
// No ordering or at-least-once guarantees are assumed: subscribers must
// tolerate loss, duplication, and reordering.
type Broker interface {
	// Publish sends an envelope to all current subscribers of the channel.
	// A publish failure never rolls back the store mutation that preceded it.
	Publish(ctx context.Context, channelName string, env *event.Envelope) error

	// Subscribe registers a subscriber for a channel. The returned channel
	// receives envelopes until Unsubscribe is called or ctx is cancelled.
	Subscribe(ctx context.Context, channelName string) (<-chan *event.Envelope, string, error)

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(channelName, subID string)

	// Close shuts down the broker and closes all subscriber channels.
	Close() error
}
