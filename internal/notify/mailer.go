package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mg "github.com/mailgun/mailgun-go/v5"
	"github.com/wneessen/go-mail"

	"github.com/memohai/intake/internal/config"
)

// Email is a plain-text notification e-mail.
type Email struct {
	To      []string
	Subject string
	Body    string
}

// Mailer delivers e-mail notifications.
type Mailer interface {
	SendMail(ctx context.Context, msg Email) error
}

// NewMailer picks the e-mail transport named by notify.mailer. It returns a
// nil Mailer for "none" or an empty setting.
func NewMailer(cfg config.Config) (Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notify.Mailer)) {
	case "", "none":
		return nil, nil
	case "smtp":
		if strings.TrimSpace(cfg.SMTP.Host) == "" {
			return nil, fmt.Errorf("smtp.host is required for the smtp mailer")
		}
		return NewSMTPMailer(cfg.SMTP), nil
	case "mailgun":
		if strings.TrimSpace(cfg.Mailgun.Domain) == "" || strings.TrimSpace(cfg.Mailgun.APIKey) == "" {
			return nil, fmt.Errorf("mailgun.domain and mailgun.api_key are required for the mailgun mailer")
		}
		return NewMailgunMailer(cfg.Mailgun), nil
	default:
		return nil, fmt.Errorf("unsupported mailer: %s", cfg.Notify.Mailer)
	}
}

// SMTPMailer sends through an SMTP relay.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) from() string {
	if from := strings.TrimSpace(m.cfg.From); from != "" {
		return from
	}
	return m.cfg.Username
}

func (m *SMTPMailer) buildMessage(msg Email) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.from()); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	out.SetMessageID()
	return out, nil
}

func (m *SMTPMailer) options() []mail.Option {
	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	switch m.cfg.Security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	return opts
}

func (m *SMTPMailer) SendMail(ctx context.Context, msg Email) error {
	out, err := m.buildMessage(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.cfg.Host, m.options()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// MailgunMailer sends through the Mailgun HTTP API.
type MailgunMailer struct {
	client *mg.Client
	domain string
	from   string
}

func NewMailgunMailer(cfg config.MailgunConfig) *MailgunMailer {
	client := mg.NewMailgun(cfg.APIKey)
	if strings.EqualFold(cfg.Region, "eu") {
		client.SetAPIBase(mg.APIBaseEU)
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = fmt.Sprintf("noreply@%s", cfg.Domain)
	}
	return &MailgunMailer{client: client, domain: cfg.Domain, from: from}
}

func (m *MailgunMailer) SendMail(ctx context.Context, msg Email) error {
	message := mg.NewMessage(m.domain, m.from, msg.Subject, msg.Body, msg.To...)
	if _, err := m.client.Send(ctx, message); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

// isRetryableMail treats SMTP permanent rejections as final and everything
// else except cancellation as transient.
func isRetryableMail(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return true
}
