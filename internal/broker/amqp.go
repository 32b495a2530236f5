// ABOUTME: AMQP-backed Broker using a topic exchange, one routing key per channel
// ABOUTME: Each subscriber gets an exclusive auto-delete queue bound to its channel name

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/lumora/deskwire/internal/event"
)

// AMQP implements Broker over a RabbitMQ topic exchange. Channel names map
// directly to routing keys, so the in-memory and brokered deployments share
// the same topology.
type AMQP struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]*amqpSubscription // subID -> subscription
}

type amqpSubscription struct {
	channelName string
	ch          *amqp091.Channel
	out         chan *event.Envelope
	done        chan struct{}
}

// NewAMQP connects to the broker at url and declares the topic exchange.
func NewAMQP(url, exchange string, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return &AMQP{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "broker"),
		subs:     make(map[string]*amqpSubscription),
	}, nil
}

// Publish sends an envelope to the exchange with the channel name as routing key.
func (b *AMQP) Publish(ctx context.Context, channelName string, env *event.Envelope) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening publish channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	err = ch.PublishWithContext(ctx, b.exchange, channelName, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			MessageId:    env.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", channelName, err)
	}

	b.logger.Debug("published", "channel", channelName, "envelope_id", env.ID)
	return nil
}

// Subscribe binds an exclusive auto-delete queue to the channel's routing key
// and forwards deliveries until Unsubscribe or ctx cancellation. Malformed
// deliveries are dropped with a logged warning.
func (b *AMQP) Subscribe(ctx context.Context, channelName string) (<-chan *event.Envelope, string, error) {
	amqpCh, err := b.conn.Channel()
	if err != nil {
		return nil, "", fmt.Errorf("opening subscribe channel: %w", err)
	}

	queue, err := amqpCh.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		amqpCh.Close()
		return nil, "", fmt.Errorf("declaring queue: %w", err)
	}

	if err := amqpCh.QueueBind(queue.Name, channelName, b.exchange, false, nil); err != nil {
		amqpCh.Close()
		return nil, "", fmt.Errorf("binding queue to %s: %w", channelName, err)
	}

	deliveries, err := amqpCh.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		amqpCh.Close()
		return nil, "", fmt.Errorf("consuming from %s: %w", channelName, err)
	}

	subID := uuid.New().String()
	sub := &amqpSubscription{
		channelName: channelName,
		ch:          amqpCh,
		out:         make(chan *event.Envelope, subscriberBufferSize),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[subID] = sub
	b.mu.Unlock()

	go func() {
		defer close(sub.out)
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(channelName, subID)
				return
			case <-sub.done:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var env event.Envelope
				if err := json.Unmarshal(delivery.Body, &env); err != nil {
					b.logger.Warn("dropping malformed delivery",
						"channel", channelName,
						"error", err)
					continue
				}
				select {
				case sub.out <- &env:
				default:
					b.logger.Debug("dropped envelope for slow subscriber",
						"channel", channelName,
						"envelope_id", env.ID)
				}
			}
		}
	}()

	b.logger.Debug("subscriber added", "channel", channelName, "sub_id", subID)
	return sub.out, subID, nil
}

// Unsubscribe tears down a subscription's queue and consumer.
func (b *AMQP) Unsubscribe(channelName, subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	if ok {
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	if !ok || sub.channelName != channelName {
		return
	}

	close(sub.done)
	sub.ch.Close()
	b.logger.Debug("subscriber removed", "channel", channelName, "sub_id", subID)
}

// Close tears down all subscriptions and the underlying connection.
func (b *AMQP) Close() error {
	b.mu.Lock()
	for subID, sub := range b.subs {
		close(sub.done)
		sub.ch.Close()
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	return b.conn.Close()
}
