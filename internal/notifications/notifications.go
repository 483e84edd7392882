// Package notifications lists and acknowledges a member's notifications
// and fans new-message events out to the store, push and email.
package notifications

import (
	"context"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/models"

	"github.com/rs/zerolog"
)

const defaultLimit = 50

type Store interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []string, at time.Time) error
	CreateNotification(ctx context.Context, n models.NewNotification) (*models.Notification, error)
}

type Service struct {
	session auth.Session
	store   Store
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(session auth.Session, store Store, logger zerolog.Logger) *Service {
	return &Service{
		session: session,
		store:   store,
		logger:  logger.With().Str("component", "notifications").Logger(),
		now:     time.Now,
	}
}

type Feed struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
	// Available is false when the notifications table is missing or
	// refused, which is different from having none.
	Available bool `json:"available"`
}

func (s *Service) List(ctx context.Context, limit int) (*Feed, error) {
	const op = "notifications.list"
	if !s.session.Authenticated() {
		return nil, apperr.New(apperr.KindNotAuthenticated, op, "not authenticated")
	}
	if limit <= 0 || limit > 200 {
		limit = defaultLimit
	}
	rows, err := s.store.ListNotifications(ctx, s.session.UserID, limit)
	if err != nil {
		if unavailable(err) {
			s.logger.Warn().Err(err).Msg("notifications unavailable")
			return &Feed{Notifications: []models.Notification{}}, nil
		}
		return nil, err
	}
	if rows == nil {
		rows = []models.Notification{}
	}
	unread, err := s.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Feed{Notifications: rows, Unread: unread, Available: true}, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	const op = "notifications.unread_count"
	if !s.session.Authenticated() {
		return 0, apperr.New(apperr.KindNotAuthenticated, op, "not authenticated")
	}
	n, err := s.store.CountUnreadNotifications(ctx, s.session.UserID)
	if err != nil {
		if unavailable(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// MarkRead acknowledges the given notifications. Empty input is a no-op.
func (s *Service) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.markRead(ctx, ids)
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	return s.markRead(ctx, nil)
}

func (s *Service) markRead(ctx context.Context, ids []string) error {
	const op = "notifications.mark_read"
	if !s.session.Authenticated() {
		return apperr.New(apperr.KindNotAuthenticated, op, "not authenticated")
	}
	return s.store.MarkNotificationsRead(ctx, s.session.UserID, ids, s.now())
}

func unavailable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindFeatureUnavailable, apperr.KindPermissionDenied:
		return true
	}
	return false
}
