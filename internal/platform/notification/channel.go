package notification

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/telehealth/telehealth/internal/platform/websocket"
)

// Contact is what delivery channels need to reach a user.
type Contact struct {
	Email string
	Name  string
}

// Directory resolves a user id to contact details.
type Directory interface {
	ContactFor(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// Channel delivers a stored notification to its recipient.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n *Notification, to Contact) error
}

// Pusher pushes events to a user's open websocket connections.
type Pusher interface {
	PushToUser(userID uuid.UUID, event websocket.Event)
}

// InAppChannel pushes the notification over the websocket hub.
type InAppChannel struct {
	pusher Pusher
}

func NewInAppChannel(p Pusher) *InAppChannel {
	return &InAppChannel{pusher: p}
}

func (c *InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Deliver(_ context.Context, n *Notification, _ Contact) error {
	c.pusher.PushToUser(n.RecipientID, websocket.NewEvent(websocket.EventNotification, "", n))
	return nil
}

// SMTPConfig configures EmailChannel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel sends the notification as an HTML email.
type EmailChannel struct {
	dialer Dialer
	from   string
}

func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// NewEmailChannelWithDialer is used by tests.
func NewEmailChannelWithDialer(d Dialer, from string) *EmailChannel {
	return &EmailChannel{dialer: d, from: from}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(_ context.Context, n *Notification, to Contact) error {
	if to.Email == "" {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetAddressHeader("To", to.Email, to.Name)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/html", fmt.Sprintf("<p>%s</p>", html.EscapeString(n.Body)))

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", to.Email, err)
	}
	return nil
}

// LogChannel writes the notification to the log. Used in development when
// no SMTP server is configured.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, n *Notification, _ Contact) error {
	c.logger.Info().
		Str("notification_id", n.ID.String()).
		Str("recipient_id", n.RecipientID.String()).
		Str("title", n.Title).
		Msg("notification delivered")
	return nil
}
