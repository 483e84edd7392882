package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/auth"
	"gearhead-backend/internal/memstore"
	"gearhead-backend/internal/models"

	"firebase.google.com/go/messaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *memstore.Store, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.CreateNotification(context.Background(), models.NewNotification{UserID: userID, Type: models.NotificationTypeNewMessage})
		require.NoError(t, err)
	}
}

func TestServiceListAndMarkRead(t *testing.T) {
	store := memstore.New(nil)
	seed(t, store, "u1", 3)
	seed(t, store, "u2", 1)
	svc := NewService(auth.Session{UserID: "u1", AccessToken: "tok"}, store, zerolog.Nop())
	ctx := context.Background()

	feed, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.True(t, feed.Available)
	assert.Len(t, feed.Notifications, 3)
	assert.Equal(t, 3, feed.Unread)

	require.NoError(t, svc.MarkRead(ctx, nil))
	assert.Zero(t, store.Calls("MarkNotificationsRead"))

	require.NoError(t, svc.MarkRead(ctx, []string{feed.Notifications[0].ID}))
	n, err := svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, svc.MarkAllRead(ctx))
	n, err = svc.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServiceUnavailable(t *testing.T) {
	store := memstore.New(nil)
	store.Fail("ListNotifications", apperr.New(apperr.KindFeatureUnavailable, "notifications.list", "relation does not exist"))
	svc := NewService(auth.Session{UserID: "u1", AccessToken: "tok"}, store, zerolog.Nop())

	feed, err := svc.List(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, feed.Available)
	assert.Empty(t, feed.Notifications)
}

func TestServiceRequiresSession(t *testing.T) {
	svc := NewService(auth.Session{}, memstore.New(nil), zerolog.Nop())
	_, err := svc.List(context.Background(), 10)
	assert.True(t, apperr.IsKind(err, apperr.KindNotAuthenticated))
}

type fakePush struct {
	sent []*messaging.Message
	err  error
}

func (f *fakePush) Send(ctx context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "projects/x/messages/1", f.err
}

type fakeMailer struct {
	to, subject, text, html string
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, text, html string) error {
	f.to, f.subject, f.text, f.html = to, subject, text, html
	return nil
}

type brokenChannel struct{ calls int }

func (b *brokenChannel) Name() string { return "broken" }

func (b *brokenChannel) Deliver(ctx context.Context, d Delivery) error {
	b.calls++
	return errors.New("down")
}

func TestNotifierFansOut(t *testing.T) {
	store := memstore.New(nil)
	store.AddDeviceToken("u2", "device-a")
	store.AddDeviceToken("u2", "device-b")
	store.PutProfile(models.Profile{ID: "u2", Email: "u2@example.com"})

	push := &fakePush{}
	mail := &fakeMailer{}
	broken := &brokenChannel{}
	n := NewNotifier(zerolog.Nop(),
		broken,
		NewStoreChannel(store),
		NewPushChannel(push, store),
		NewEmailChannel(mail, store),
	)

	conv := &models.Conversation{ID: "c1", ParticipantIDs: []string{"u1", "u2"}}
	msg := &models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "Is the <GT3> still for sale?", MessageType: models.MessageTypeText}
	n.MessageSent(context.Background(), conv, msg)

	assert.Equal(t, 1, broken.calls)

	rows, err := store.ListNotifications(context.Background(), "u2", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationTypeNewMessage, rows[0].Type)
	assert.Equal(t, "c1", rows[0].Payload["conversation_id"])

	require.Len(t, push.sent, 2)
	assert.Equal(t, "device-a", push.sent[0].Token)
	assert.Equal(t, "m1", push.sent[0].Data["message_id"])

	assert.Equal(t, "u2@example.com", mail.to)
	assert.Contains(t, mail.html, "&lt;GT3&gt;")
}

func TestPushReportsFailures(t *testing.T) {
	store := memstore.New(nil)
	store.AddDeviceToken("u2", "device-a")
	ch := NewPushChannel(&fakePush{err: errors.New("unregistered")}, store)

	err := ch.Deliver(context.Background(), Delivery{
		RecipientID:  "u2",
		Conversation: &models.Conversation{ID: "c1"},
		Message:      &models.Message{ID: "m1", MessageType: models.MessageTypeText},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
}

func TestDeliveryPreview(t *testing.T) {
	long := strings.Repeat("é", previewLength+10)
	d := Delivery{Message: &models.Message{Content: long, MessageType: models.MessageTypeText}}
	assert.Equal(t, previewLength+1, len([]rune(d.Preview())))

	d = Delivery{Message: &models.Message{Content: "https://x/y.png", MessageType: models.MessageTypeImage}}
	assert.Equal(t, "Sent you a photo", d.Preview())
}
