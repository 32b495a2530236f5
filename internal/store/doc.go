// Package store provides persistent storage for deskwire using SQLite.
//
// # Data Models
//
//   - User: end users and support agents (role USER or ADMIN)
//   - Conversation: one support conversation per user, sorted by last_message_at
//   - Message: append-only, immutable created_at defines intra-conversation order
//   - Notification: cross-cutting alerts delivered over the pull-based path
//   - ConversationProjection: denormalized wire snapshot, never persisted
//
// # Invariants
//
// A partial unique index enforces at most one non-terminal (OPEN/IN_PROGRESS)
// conversation per user. CreateConversation returns ErrDuplicateOpenConversation
// on violation; callers re-look-up and return the existing conversation.
//
// Projections are always regenerable: GetProjection re-reads the conversation,
// its most recent message, and the unread count in one query, so the push path
// and a fresh fetch can never drift apart.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width RFC3339 text so lexical ordering matches
// chronological ordering.
package store
