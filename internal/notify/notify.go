// Package notify fans team notifications out to channel and e-mail recipients.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/retry"
)

// ChannelSender delivers a message to a channel target. channel.Outbound
// implements it with its own retry discipline.
type ChannelSender interface {
	Send(ctx context.Context, target channel.Target, msg channel.Message) error
}

// Notifier delivers one notification to every recipient independently.
type Notifier struct {
	logger        *slog.Logger
	recipients    []Recipient
	sender        ChannelSender
	mailer        Mailer
	mail          *retry.Dispatcher
	subjectPrefix string
}

// NewNotifier wires recipients to their transports. mailer may be nil when no
// e-mail recipients are configured.
func NewNotifier(log *slog.Logger, recipients []Recipient, sender ChannelSender, mailer Mailer, policy retry.Policy, subjectPrefix string) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "notify"))
	return &Notifier{
		logger:        log,
		recipients:    recipients,
		sender:        sender,
		mailer:        mailer,
		mail:          retry.New(log, policy, isRetryableMail),
		subjectPrefix: strings.TrimSpace(subjectPrefix),
	}
}

// Recipients returns the configured recipients.
func (n *Notifier) Recipients() []Recipient {
	return n.recipients
}

// Broadcast sends subject and body to every recipient and returns how many
// deliveries succeeded. Failures are logged and never returned.
func (n *Notifier) Broadcast(ctx context.Context, subject, body string) int {
	if n == nil {
		return 0
	}
	delivered := 0
	for _, r := range n.recipients {
		if err := n.deliver(ctx, r, subject, body); err != nil {
			n.logger.Error("notification failed", slog.String("recipient", r.String()), slog.Any("error", err))
			continue
		}
		delivered++
	}
	return delivered
}

func (n *Notifier) deliver(ctx context.Context, r Recipient, subject, body string) error {
	if r.IsEmail() {
		if n.mailer == nil {
			return fmt.Errorf("no mailer configured")
		}
		email := Email{To: []string{r.Email}, Subject: n.subject(subject), Body: body}
		return n.mail.Do(ctx, "send email", func(ctx context.Context) error {
			return n.mailer.SendMail(ctx, email)
		})
	}
	if n.sender == nil {
		return fmt.Errorf("no channel sender configured")
	}
	return n.sender.Send(ctx, r.Target, channel.Message{Text: body})
}

func (n *Notifier) subject(subject string) string {
	if n.subjectPrefix == "" {
		return subject
	}
	return n.subjectPrefix + " " + subject
}
