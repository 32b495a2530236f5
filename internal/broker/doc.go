// Package broker provides the channel-based pub/sub transport boundary.
//
// Two implementations share one topology: Memory for single-process
// deployments and tests, and AMQP for brokered deployments where the channel
// name doubles as the routing key on a topic exchange. Neither implementation
// guarantees ordering or delivery; the reconcile package is built to tolerate
// loss, duplication, and reordering, and every live view is recoverable by an
// explicit refetch from the store.
package broker
