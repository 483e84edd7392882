package notifications

import (
	"context"
	"unicode/utf8"

	"gearhead-backend/internal/models"

	"github.com/rs/zerolog"
)

const previewLength = 120

// Delivery is one new-message event addressed to one recipient.
type Delivery struct {
	RecipientID  string
	Conversation *models.Conversation
	Message      *models.Message
}

func (d Delivery) Title() string {
	return "New message"
}

func (d Delivery) Preview() string {
	text := d.Message.Content
	switch d.Message.MessageType {
	case models.MessageTypeImage:
		return "Sent you a photo"
	case models.MessageTypeFile:
		return "Sent you a file"
	}
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}

// Channel delivers one kind of notification.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Notifier fans a stored message out to every channel for the other
// participant. Channels fail independently.
type Notifier struct {
	channels []Channel
	logger   zerolog.Logger
}

func NewNotifier(logger zerolog.Logger, channels ...Channel) *Notifier {
	return &Notifier{
		channels: channels,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *Notifier) MessageSent(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	recipient := conv.OtherParticipant(msg.SenderID)
	if recipient == "" {
		return
	}
	d := Delivery{RecipientID: recipient, Conversation: conv, Message: msg}
	for _, ch := range n.channels {
		if err := ch.Deliver(ctx, d); err != nil {
			n.logger.Warn().Err(err).
				Str("channel", ch.Name()).
				Str("conversation_id", conv.ID).
				Str("recipient_id", recipient).
				Msg("notification not delivered")
		}
	}
}

// StoreChannel writes a notifications row.
type StoreChannel struct {
	store Store
}

func NewStoreChannel(store Store) *StoreChannel {
	return &StoreChannel{store: store}
}

func (c *StoreChannel) Name() string { return "store" }

func (c *StoreChannel) Deliver(ctx context.Context, d Delivery) error {
	_, err := c.store.CreateNotification(ctx, models.NewNotification{
		UserID:  d.RecipientID,
		Type:    models.NotificationTypeNewMessage,
		Title:   d.Title(),
		Message: d.Preview(),
		Payload: map[string]interface{}{
			"conversation_id": d.Conversation.ID,
			"message_id":      d.Message.ID,
			"sender_id":       d.Message.SenderID,
		},
	})
	return err
}
