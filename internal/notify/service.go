// ABOUTME: Notification operations scoped to the authenticated caller
// ABOUTME: Cross-cutting alerts ride the pull-based path, not the event channels

package notify

import (
	"context"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/service"
	"github.com/lumora/deskwire/internal/store"
)

const defaultPageSize = 50

// Service exposes the notification inbox for the authenticated caller.
type Service struct {
	store store.Store
}

// NewService creates a notification Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*store.Notification, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return nil, service.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	return s.store.ListNotifications(ctx, id.ID, limit, offset)
}

// UnreadCount returns the caller's unread notification count.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return 0, service.ErrUnauthenticated
	}
	return s.store.CountUnreadNotifications(ctx, id.ID)
}

// MarkRead marks a single notification read. Idempotent.
func (s *Service) MarkRead(ctx context.Context, notificationID string) error {
	if _, ok := auth.FromContext(ctx); !ok {
		return service.ErrUnauthenticated
	}
	return s.store.MarkNotificationRead(ctx, notificationID)
}

// MarkAllRead marks every notification of the caller read.
func (s *Service) MarkAllRead(ctx context.Context) error {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return service.ErrUnauthenticated
	}
	return s.store.MarkAllNotificationsRead(ctx, id.ID)
}

// Delete removes a single notification.
func (s *Service) Delete(ctx context.Context, notificationID string) error {
	if _, ok := auth.FromContext(ctx); !ok {
		return service.ErrUnauthenticated
	}
	return s.store.DeleteNotification(ctx, notificationID)
}

// Clear removes every notification of the caller.
func (s *Service) Clear(ctx context.Context) error {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return service.ErrUnauthenticated
	}
	return s.store.ClearNotifications(ctx, id.ID)
}
