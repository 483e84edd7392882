package notifications

import (
	"context"
	"fmt"
	"html"

	"gearhead-backend/internal/config"
	"gearhead-backend/internal/models"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/pkg/errors"
)

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, htmlBody string) error
}

type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// MailgunMailer sends through the Mailgun API.
type MailgunMailer struct {
	mg   mailgun.Mailgun
	from string
}

func NewMailgunMailer(cfg config.MailgunConfig) *MailgunMailer {
	return &MailgunMailer{
		mg:   mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		from: cfg.From,
	}
}

func (m *MailgunMailer) Send(ctx context.Context, to, subject, text, htmlBody string) error {
	msg := m.mg.NewMessage(m.from, subject, text, to)
	if htmlBody != "" {
		msg.SetHtml(htmlBody)
	}
	if _, _, err := m.mg.Send(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

// EmailChannel emails the recipient when their profile has an address.
type EmailChannel struct {
	mailer   Mailer
	profiles ProfileSource
}

func NewEmailChannel(mailer Mailer, profiles ProfileSource) *EmailChannel {
	return &EmailChannel{mailer: mailer, profiles: profiles}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, d Delivery) error {
	p, err := c.profiles.Profile(ctx, d.RecipientID)
	if err != nil {
		return errors.Wrap(err, "loading recipient profile")
	}
	if p.Email == "" {
		return nil
	}
	subject := "You have a new message on Gearhead"
	preview := d.Preview()
	body := fmt.Sprintf(`
		<html>
			<body>
				<h2>%s</h2>
				<p>%s</p>
				<p>Open the conversation in Gearhead to reply.</p>
			</body>
		</html>
	`, html.EscapeString(d.Title()), html.EscapeString(preview))
	return c.mailer.Send(ctx, p.Email, subject, preview, body)
}
