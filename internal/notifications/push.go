package notifications

import (
	"context"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// PushSender is satisfied by *messaging.Client.
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type TokenSource interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// NewFirebaseMessaging builds an FCM client from a service account file.
func NewFirebaseMessaging(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "initializing firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting firebase messaging client")
	}
	return client, nil
}

// PushChannel sends an FCM notification to each of the recipient's devices.
type PushChannel struct {
	sender PushSender
	tokens TokenSource
}

func NewPushChannel(sender PushSender, tokens TokenSource) *PushChannel {
	return &PushChannel{sender: sender, tokens: tokens}
}

func (c *PushChannel) Name() string { return "push" }

func (c *PushChannel) Deliver(ctx context.Context, d Delivery) error {
	tokens, err := c.tokens.DeviceTokens(ctx, d.RecipientID)
	if err != nil {
		return errors.Wrap(err, "loading device tokens")
	}
	var failed int
	var last error
	for _, token := range tokens {
		_, err := c.sender.Send(ctx, &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: d.Title(),
				Body:  d.Preview(),
			},
			Data: map[string]string{
				"type":            "new_message",
				"conversation_id": d.Conversation.ID,
				"message_id":      d.Message.ID,
			},
		})
		if err != nil {
			failed++
			last = err
		}
	}
	if failed > 0 {
		return errors.Wrapf(last, "push failed for %d of %d devices", failed, len(tokens))
	}
	return nil
}
