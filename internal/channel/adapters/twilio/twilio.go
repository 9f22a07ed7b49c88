// Package twilio implements the WhatsApp/SMS channel over the Twilio
// Messaging REST API and its form-encoded webhooks.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	twiliogo "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/media"
)

// Type is the channel type for Twilio.
const Type channel.ChannelType = "twilio"

const (
	twilioMaxMessageLength = 1600
	whatsappPrefix         = "whatsapp:"
)

// Twilio error codes worth retrying: too many requests, service unavailable.
const (
	codeTooManyRequests    = 20429
	codeServiceUnavailable = 20503
)

// Config holds account credentials and webhook verification settings.
type Config struct {
	AccountSID string
	AuthToken  string
	// From is the sender number, e.g. "whatsapp:+14155238886".
	From   string
	Region string
	Edge   string
	// ValidateSignature enables X-Twilio-Signature verification on webhooks.
	ValidateSignature bool
	// PublicURL is the externally visible base URL used to verify signatures
	// behind proxies.
	PublicURL string
}

// messagesAPI is the part of the Twilio 2010 API the adapter calls.
type messagesAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	FetchAccount(sid string) (*openapi.ApiV2010Account, error)
}

// Adapter implements channel.Adapter, channel.Sender, channel.AttachmentResolver
// and channel.Prober.
type Adapter struct {
	cfg    Config
	api    messagesAPI
	client *http.Client
	logger *slog.Logger
}

// NewAdapter creates a Twilio adapter.
func NewAdapter(log *slog.Logger, cfg Config) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	rest := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if region := strings.TrimSpace(cfg.Region); region != "" {
		rest.SetRegion(region)
	}
	if edge := strings.TrimSpace(cfg.Edge); edge != "" {
		rest.SetEdge(edge)
	}
	return &Adapter{
		cfg:    cfg,
		api:    rest.Api,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: log.With(slog.String("adapter", "twilio")),
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "WhatsApp (Twilio)",
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit:  twilioMaxMessageLength,
			MediaPerMessage: 1,
		},
	}
}

// Send creates one message. Attachment URLs must be publicly reachable for
// Twilio to fetch them.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("twilio target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(senderFor(a.cfg.From, to))
	if text := msg.Message.PlainText(); text != "" {
		params.SetBody(text)
	}
	var mediaURLs []string
	for _, att := range msg.Message.Attachments {
		if ref := strings.TrimSpace(att.URL); ref != "" {
			mediaURLs = append(mediaURLs, ref)
		}
	}
	if len(mediaURLs) > 0 {
		params.SetMediaUrl(mediaURLs)
	}
	resp, err := a.api.CreateMessage(params)
	if err != nil {
		return classifyError(err)
	}
	if resp != nil && resp.Sid != nil {
		a.logger.Debug("twilio message created", slog.String("sid", *resp.Sid), slog.String("to", to))
	}
	return nil
}

// classifyError maps Twilio REST errors to channel.SendError. Transport
// errors pass through so channel.IsRetryable can inspect them.
func classifyError(err error) error {
	var restErr *twclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return fmt.Errorf("twilio send: %w", err)
	}
	message := strings.TrimSpace(restErr.Message)
	if message == "" {
		message = http.StatusText(restErr.Status)
	}
	return &channel.SendError{
		Channel:    Type,
		StatusCode: restErr.Status,
		Code:       restErr.Code,
		Message:    message,
		Retryable: channel.IsRetryableStatus(restErr.Status) ||
			restErr.Code == codeTooManyRequests ||
			restErr.Code == codeServiceUnavailable,
	}
}

// senderFor mirrors the recipient's WhatsApp prefix onto the sender number.
func senderFor(from, to string) string {
	from = strings.TrimSpace(from)
	if strings.HasPrefix(to, whatsappPrefix) && !strings.HasPrefix(from, whatsappPrefix) {
		return whatsappPrefix + from
	}
	return from
}

// ResolveAttachment downloads media hosted by Twilio using account credentials.
func (a *Adapter) ResolveAttachment(ctx context.Context, attachment channel.Attachment) (channel.AttachmentPayload, error) {
	downloadURL := strings.TrimSpace(attachment.URL)
	if downloadURL == "" {
		return channel.AttachmentPayload{}, fmt.Errorf("twilio attachment requires url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("build download request: %w", err)
	}
	if a.cfg.AccountSID != "" {
		req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	if resp.ContentLength > media.MaxAssetBytes {
		defer func() {
			_ = resp.Body.Close()
		}()
		_, _ = io.Copy(io.Discard, resp.Body)
		return channel.AttachmentPayload{}, fmt.Errorf("%w: max %d bytes", media.ErrAssetTooLarge, media.MaxAssetBytes)
	}
	mime := strings.TrimSpace(attachment.Mime)
	if mime == "" {
		mime = strings.TrimSpace(resp.Header.Get("Content-Type"))
		if idx := strings.Index(mime, ";"); idx >= 0 {
			mime = strings.TrimSpace(mime[:idx])
		}
	}
	size := attachment.Size
	if size <= 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return channel.AttachmentPayload{
		Reader: resp.Body,
		Mime:   mime,
		Name:   strings.TrimSpace(attachment.Name),
		Size:   size,
	}, nil
}

// Probe fetches the account resource to verify the credentials.
func (a *Adapter) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.api.FetchAccount(a.cfg.AccountSID); err != nil {
		return fmt.Errorf("twilio probe: %w", err)
	}
	return nil
}
