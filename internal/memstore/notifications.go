package memstore

import (
	"context"
	"time"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/realtime"

	"github.com/google/uuid"
)

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListNotifications"); err != nil {
		return nil, err
	}
	var rows []models.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID {
			continue
		}
		rows = append(rows, *n)
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountUnreadNotifications"); err != nil {
		return 0, err
	}
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// MarkNotificationsRead stamps the given notifications, or all of the
// user's unread ones when ids is empty.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MarkNotificationsRead"); err != nil {
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	readAt := at.UTC()
	for _, n := range s.notifications {
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		if len(ids) > 0 && !want[n.ID] {
			continue
		}
		t := readAt
		n.ReadAt = &t
	}
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, in models.NewNotification) (*models.Notification, error) {
	s.mu.Lock()
	if err := s.enter("CreateNotification"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if in.UserID == "" {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindValidation, "notifications.create", "user_id is required")
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Payload:   in.Payload,
		CreatedAt: s.now(),
	}
	s.notifications = append(s.notifications, n)
	out := *n
	s.mu.Unlock()

	s.publish(tableNotifications, realtime.EventInsert, out, nil)
	return &out, nil
}

func (s *Store) AddDeviceToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = append(s.tokens[userID], token)
}

func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeviceTokens"); err != nil {
		return nil, err
	}
	return append([]string(nil), s.tokens[userID]...), nil
}

func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = &p
}

func (s *Store) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Profile"); err != nil {
		return nil, err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "profiles.get", "profile not found")
	}
	out := *p
	return &out, nil
}
