package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	twclient "github.com/twilio/twilio-go/client"

	"github.com/memohai/intake/internal/channel"
)

const (
	signatureHeader        = "X-Twilio-Signature"
	emptyTwiML             = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	webhookMaxBodyBytes    = 1 << 20
	maxMediaPerTwilioInbox = 10
)

// WebhookHandler receives inbound WhatsApp/SMS messages.
type WebhookHandler struct {
	cfg       Config
	validator twclient.RequestValidator
	handler   channel.InboundHandler
	logger    *slog.Logger
}

// NewWebhookHandler creates the public Twilio webhook handler.
func NewWebhookHandler(log *slog.Logger, cfg Config, handler channel.InboundHandler) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		cfg:       cfg,
		validator: twclient.NewRequestValidator(cfg.AuthToken),
		handler:   handler,
		logger:    log.With(slog.String("handler", "twilio_webhook")),
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/twilio", h.Handle)
}

// Handle godoc
// @Summary Twilio inbound message webhook
// @Tags webhooks
// @Accept x-www-form-urlencoded
// @Produce xml
// @Success 200 {string} string "empty TwiML response"
// @Failure 403 {object} map[string]string
// @Router /webhooks/twilio [post]
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.handler == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "twilio webhook dependencies not configured")
	}
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, webhookMaxBodyBytes)
	if err := req.ParseForm(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err))
	}
	form := req.PostForm
	if h.cfg.ValidateSignature {
		got := strings.TrimSpace(req.Header.Get(signatureHeader))
		if got == "" || !h.validator.Validate(h.requestURL(c), formParams(form), got) {
			h.logger.Warn("twilio signature mismatch", slog.String("from", form.Get("From")))
			return echo.NewHTTPError(http.StatusForbidden, "invalid twilio signature")
		}
	}

	msg, ok := ParseInbound(form)
	if !ok {
		return c.Blob(http.StatusOK, "application/xml", []byte(emptyTwiML))
	}
	if err := h.handler.HandleInbound(context.WithoutCancel(req.Context()), msg); err != nil {
		h.logger.Error("handle inbound failed", slog.String("from", msg.Sender.SubjectID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process message")
	}
	return c.Blob(http.StatusOK, "application/xml", []byte(emptyTwiML))
}

// ParseInbound maps Twilio webhook form fields to an inbound message. It
// reports false when the form carries no sender or no content.
func ParseInbound(form url.Values) (channel.InboundMessage, bool) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return channel.InboundMessage{}, false
	}
	numMedia, _ := strconv.Atoi(strings.TrimSpace(form.Get("NumMedia")))
	numMedia = min(max(numMedia, 0), maxMediaPerTwilioInbox)
	attachments := make([]channel.Attachment, 0, numMedia)
	for i := 0; i < numMedia; i++ {
		mediaURL := strings.TrimSpace(form.Get(fmt.Sprintf("MediaUrl%d", i)))
		if mediaURL == "" {
			continue
		}
		mime := strings.TrimSpace(form.Get(fmt.Sprintf("MediaContentType%d", i)))
		attachments = append(attachments, channel.Attachment{
			Type:           channel.AttachmentTypeFromMime(mime),
			URL:            mediaURL,
			SourcePlatform: Type.String(),
			Mime:           mime,
		})
	}
	msg := channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			Text:        form.Get("Body"),
			Attachments: attachments,
		},
		Sender: channel.Identity{
			SubjectID:   from,
			DisplayName: strings.TrimSpace(form.Get("ProfileName")),
		},
		ReceivedAt: time.Now().UTC(),
		Metadata: map[string]any{
			"message_sid": strings.TrimSpace(form.Get("MessageSid")),
		},
	}
	if msg.Message.IsEmpty() {
		return channel.InboundMessage{}, false
	}
	return msg, true
}

// formParams flattens the form for signature validation. Twilio never
// repeats a parameter name in webhook posts.
func formParams(form url.Values) map[string]string {
	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	return params
}

func (h *WebhookHandler) requestURL(c echo.Context) string {
	req := c.Request()
	if base := strings.TrimRight(strings.TrimSpace(h.cfg.PublicURL), "/"); base != "" {
		return base + req.URL.RequestURI()
	}
	return c.Scheme() + "://" + req.Host + req.URL.RequestURI()
}
