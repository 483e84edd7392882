package supabase

import (
	"context"
	"time"

	"gearhead-backend/internal/models"
)

const tableNotifications = "notifications"

type NotificationRepo struct {
	c *Client
}

func NewNotificationRepo(c *Client) *NotificationRepo {
	return &NotificationRepo{c: c}
}

func (r *NotificationRepo) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	q := r.c.From(tableNotifications).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Execute(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationRepo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	return r.c.From(tableNotifications).Eq("user_id", userID).IsNull("read_at").Count(ctx)
}

func (r *NotificationRepo) MarkNotificationsRead(ctx context.Context, userID string, ids []string, at time.Time) error {
	q := r.c.From(tableNotifications).Eq("user_id", userID).IsNull("read_at")
	if len(ids) > 0 {
		q = q.In("id", ids)
	}
	return q.Update(ctx, map[string]interface{}{"read_at": at.UTC()}, nil)
}

func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.NewNotification) (*models.Notification, error) {
	var out models.Notification
	if err := r.c.From(tableNotifications).Select("*").Single().Insert(ctx, n, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *NotificationRepo) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	var rows []models.DeviceToken
	if err := r.c.From("device_tokens").Select("user_id,token,platform").Eq("user_id", userID).Execute(ctx, &rows); err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	return tokens, nil
}

func (r *NotificationRepo) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := r.c.From("profiles").Select("id,email,display_name,avatar_url").Eq("id", userID).Single().Execute(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
