// ABOUTME: Package reconcile merges pushed events into locally cached views
// ABOUTME: Views are regenerable caches; the store row remains the single source of truth

// Package reconcile provides client-side view state that stays consistent
// under at-least-once, unordered event delivery.
//
// Two views exist: QueueView holds the agent-facing conversation list and
// ConversationView holds one conversation's message history. Both follow the
// same discipline: Seed with a direct store fetch, then Apply each pushed
// envelope. Events that arrive before the seed are buffered and replayed so
// the race between fetch and subscription loses nothing. Every merge is
// idempotent and order-independent, so duplicates and reordering on the
// transport degrade into no-ops rather than corruption. When in doubt the
// view can always be thrown away and re-seeded.
package reconcile
