// ABOUTME: Ticker-driven notification poller with an optimistic unread badge
// ABOUTME: Each tick refetches a snapshot; local actions shadow the badge until the next tick

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumora/deskwire/internal/optimistic"
	"github.com/lumora/deskwire/internal/store"
)

// Snapshot is one poll result delivered to the update handler.
type Snapshot struct {
	Notifications []*store.Notification
	Unread        int
}

// Poller periodically refetches one user's notification inbox. It carries no
// incremental state: every tick replaces the previous snapshot wholesale, so
// a missed tick costs nothing but latency.
type Poller struct {
	store    store.Store
	userID   string
	interval time.Duration
	badge    *optimistic.Value[int]
	onUpdate func(Snapshot)
	logger   *slog.Logger
}

// NewPoller creates a poller for the given user. onUpdate may be nil when
// only the badge is of interest. Pass nil logger for default.
func NewPoller(st store.Store, userID string, interval time.Duration, onUpdate func(Snapshot), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:    st,
		userID:   userID,
		interval: interval,
		badge:    optimistic.New(0),
		onUpdate: onUpdate,
		logger:   logger.With("component", "notify-poller", "user_id", userID),
	}
}

// Run polls once immediately, then on every tick until the context is
// canceled. Poll failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Poll forces an immediate refresh outside the ticker cadence.
func (p *Poller) Poll(ctx context.Context) {
	p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) {
	notifications, err := p.store.ListNotifications(ctx, p.userID, defaultPageSize, 0)
	if err != nil {
		p.logger.Warn("notification poll failed", "error", err)
		return
	}
	unread, err := p.store.CountUnreadNotifications(ctx, p.userID)
	if err != nil {
		p.logger.Warn("unread count poll failed", "error", err)
		return
	}

	// Authoritative refresh clears any pending badge override
	p.badge.Set(unread)

	if p.onUpdate != nil {
		p.onUpdate(Snapshot{Notifications: notifications, Unread: unread})
	}
}

// Badge returns the current unread count, honoring a pending local override.
func (p *Poller) Badge() int {
	return p.badge.Get()
}

// MarkAllRead persists the mark-all and drops the badge to zero immediately
// rather than waiting out the poll interval.
func (p *Poller) MarkAllRead(ctx context.Context) error {
	if err := p.store.MarkAllNotificationsRead(ctx, p.userID); err != nil {
		return err
	}
	p.badge.Override(0)
	return nil
}

// MarkRead persists a single mark-read and decrements the badge locally.
func (p *Poller) MarkRead(ctx context.Context, notificationID string) error {
	if err := p.store.MarkNotificationRead(ctx, notificationID); err != nil {
		return err
	}
	if n := p.badge.Get(); n > 0 {
		p.badge.Override(n - 1)
	}
	return nil
}
