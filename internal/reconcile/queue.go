// ABOUTME: Client-side queue view merging projection events into a sorted conversation list
// ABOUTME: Merges are idempotent and order-independent; a final sort restores display order

package reconcile

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lumora/deskwire/internal/dedupe"
	"github.com/lumora/deskwire/internal/event"
	"github.com/lumora/deskwire/internal/store"
)

const (
	// maxPendingEvents bounds the pre-seed buffer. Anything beyond this is
	// discarded and recovered by the seed fetch itself.
	maxPendingEvents = 256

	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 4096
)

// QueueView maintains a locally sorted, deduplicated list of conversation
// projections (the agent queue). The local list is a best-effort cache, never
// authoritative: a fresh fetch through Seed must reproduce it exactly.
type QueueView struct {
	mu          sync.Mutex
	seeded      bool
	pending     []*event.Envelope
	projections []*store.ConversationProjection
	seen        *dedupe.Cache
	logger      *slog.Logger
}

// NewQueueView creates an empty queue view. Pass nil logger for default.
// Call Close when the owning view is torn down.
func NewQueueView(logger *slog.Logger) *QueueView {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueView{
		seen:   dedupe.New(dedupeTTL, dedupeMaxSize),
		logger: logger.With("component", "queue-view"),
	}
}

// Seed installs the initial state from a direct store fetch. Events that
// arrived before the seed were buffered and are replayed on top of it, so no
// live update is lost while the fetch was in flight.
func (v *QueueView) Seed(projections []*store.ConversationProjection) {
	v.mu.Lock()

	v.projections = make([]*store.ConversationProjection, len(projections))
	copy(v.projections, projections)
	v.sortLocked()
	v.seeded = true

	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, env := range pending {
		v.Apply(env)
	}
}

// Apply merges one incoming envelope into the view. Malformed payloads are
// dropped with a logged warning; duplicate deliveries are no-ops. Apply never
// panics on bad input: the next legitimate event or a manual refresh will
// correct state.
func (v *QueueView) Apply(env *event.Envelope) {
	v.mu.Lock()
	if !v.seeded {
		if len(v.pending) < maxPendingEvents {
			v.pending = append(v.pending, env)
		} else {
			v.logger.Debug("pre-seed buffer full, dropping event", "envelope_id", env.ID)
		}
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()

	if v.seen.CheckAndMark(env.ID) {
		return
	}

	decoded, err := event.Decode(env)
	if err != nil {
		v.logger.Warn("dropping malformed event", "envelope_id", env.ID, "error", err)
		return
	}

	switch {
	case decoded.ConversationUpdate != nil:
		v.merge(decoded.ConversationUpdate)
	case decoded.MessageCreated != nil, decoded.MessageDeleted != nil, decoded.MessagesRead != nil:
		// Message-level events belong to the conversation-detail view; the
		// queue is refreshed by its own conversation-update events.
	}
}

// merge replaces an existing projection in place or prepends a new one, then
// re-sorts. Whichever order updates arrive in, the final sort restores
// correct display order.
func (v *QueueView) merge(proj *store.ConversationProjection) {
	v.mu.Lock()
	defer v.mu.Unlock()

	replaced := false
	for i, existing := range v.projections {
		if existing.ConversationID == proj.ConversationID {
			v.projections[i] = proj
			replaced = true
			break
		}
	}
	if !replaced {
		v.projections = append([]*store.ConversationProjection{proj}, v.projections...)
	}
	v.sortLocked()
}

// sortLocked sorts descending by LastMessageAt. Must be called with mu held.
func (v *QueueView) sortLocked() {
	sort.SliceStable(v.projections, func(i, j int) bool {
		return v.projections[i].LastMessageAt.After(v.projections[j].LastMessageAt)
	})
}

// List returns a copy of the current projection list, newest activity first.
func (v *QueueView) List() []*store.ConversationProjection {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*store.ConversationProjection, len(v.projections))
	copy(out, v.projections)
	return out
}

// UnreadTotal sums unread counts across the queue for badge display.
func (v *QueueView) UnreadTotal() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := 0
	for _, proj := range v.projections {
		total += proj.UnreadCount
	}
	return total
}

// Close releases the dedupe cache. Safe to call multiple times.
func (v *QueueView) Close() {
	v.seen.Close()
}
