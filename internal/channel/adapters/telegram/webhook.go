package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/memohai/intake/internal/channel"
)

const (
	secretTokenHeader   = "X-Telegram-Bot-Api-Secret-Token"
	webhookMaxBodyBytes = 1 << 20
)

// WebhookHandler receives Bot API updates pushed by Telegram.
type WebhookHandler struct {
	cfg     Config
	handler channel.InboundHandler
	logger  *slog.Logger
}

// NewWebhookHandler creates the public Telegram webhook handler.
func NewWebhookHandler(log *slog.Logger, cfg Config, handler channel.InboundHandler) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		cfg:     cfg,
		handler: handler,
		logger:  log.With(slog.String("handler", "telegram_webhook")),
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/telegram", h.Handle)
}

// Handle godoc
// @Summary Telegram update webhook
// @Tags webhooks
// @Accept json
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /webhooks/telegram [post]
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.handler == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "telegram webhook dependencies not configured")
	}
	req := c.Request()
	if secret := strings.TrimSpace(h.cfg.WebhookSecret); secret != "" {
		got := strings.TrimSpace(req.Header.Get(secretTokenHeader))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid telegram secret token")
		}
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, webhookMaxBodyBytes)
	var update tgbotapi.Update
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid update payload")
	}
	msg, ok := extractInbound(update)
	if !ok {
		// Acknowledge so Telegram does not redeliver unsupported updates.
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if err := h.handler.HandleInbound(context.WithoutCancel(req.Context()), msg); err != nil {
		h.logger.Error("handle inbound failed", slog.String("user", msg.UserKey()), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "inbound processing failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
