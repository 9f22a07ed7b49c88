// Package telegram implements the Telegram bot channel: webhook updates in,
// Bot API messages out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/media"
)

// Type is the channel type for Telegram.
const Type channel.ChannelType = "telegram"

const telegramMaxMessageLength = 4096

// Config holds the bot credentials.
type Config struct {
	BotToken string
	// WebhookSecret is compared against X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string
}

// TelegramAdapter implements channel.Adapter, channel.Sender and
// channel.AttachmentResolver for Telegram.
type TelegramAdapter struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger, cfg Config) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &TelegramAdapter{
		cfg:    cfg,
		logger: log.With(slog.String("adapter", "telegram")),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	return adapter
}

var getOrCreateBotForTest func(a *TelegramAdapter) (*tgbotapi.BotAPI, error)

// getOrCreateBot creates the Bot API client on first use. Creation calls
// getMe, so a failure is not cached and the next call retries.
func (a *TelegramAdapter) getOrCreateBot() (*tgbotapi.BotAPI, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	if strings.TrimSpace(a.cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, classifyError(err)
	}
	a.bot = bot
	return bot, nil
}

// Type returns the Telegram channel type.
func (a *TelegramAdapter) Type() channel.ChannelType {
	return Type
}

// Descriptor returns the Telegram channel metadata.
func (a *TelegramAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit:  telegramMaxMessageLength,
			MediaPerMessage: 1,
		},
	}
}

// Send delivers text, or attachments with the text as caption of the first.
func (a *TelegramAdapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("telegram target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	text := msg.Message.PlainText()
	if len(msg.Message.Attachments) > 0 {
		for i, att := range msg.Message.Attachments {
			caption := ""
			if i == 0 {
				caption = text
			}
			if err := sendTelegramAttachment(bot, to, att, caption); err != nil {
				a.logger.Error("send attachment failed", slog.String("to", to), slog.Any("error", err))
				return classifyError(err)
			}
		}
		return nil
	}
	if err := sendTelegramText(bot, to, text); err != nil {
		if isTelegramTooManyRequests(err) {
			a.logger.Warn("telegram rate limited", slog.String("to", to), slog.Duration("retry_after", getTelegramRetryAfter(err)))
		}
		return classifyError(err)
	}
	return nil
}

func parseChatID(target string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram target must be a chat_id")
	}
	return chatID, nil
}

func sendTelegramText(bot *tgbotapi.BotAPI, target string, text string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	message := tgbotapi.NewMessage(chatID, truncateTelegramText(sanitizeTelegramText(text)))
	_, err = bot.Send(message)
	return err
}

func sendTelegramAttachment(bot *tgbotapi.BotAPI, target string, att channel.Attachment, caption string) error {
	urlRef := strings.TrimSpace(att.URL)
	keyRef := strings.TrimSpace(att.PlatformKey)
	if urlRef == "" && keyRef == "" {
		return fmt.Errorf("attachment reference is required")
	}
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	file := tgbotapi.RequestFileData(tgbotapi.FileURL(urlRef))
	sourcePlatform := strings.TrimSpace(att.SourcePlatform)
	if keyRef != "" && (sourcePlatform == "" || strings.EqualFold(sourcePlatform, Type.String())) {
		file = tgbotapi.FileID(keyRef)
	}
	caption = truncateCaption(sanitizeTelegramText(caption))
	if att.Type == channel.AttachmentImage {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		_, err = bot.Send(photo)
		return err
	}
	document := tgbotapi.NewDocument(chatID, file)
	document.Caption = caption
	_, err = bot.Send(document)
	return err
}

// classifyError maps Bot API failures to channel.SendError so the outbound
// pipeline retries rate limits and server errors only.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := asTelegramError(err)
	if !ok {
		return err
	}
	message := apiErr.Message
	if wait := getTelegramRetryAfter(err); wait > 0 {
		message = fmt.Sprintf("%s (retry after %s)", message, wait)
	}
	return &channel.SendError{
		Channel:    Type,
		StatusCode: apiErr.Code,
		Code:       apiErr.Code,
		Message:    message,
		Retryable:  channel.IsRetryableStatus(apiErr.Code),
	}
}

// asTelegramError unwraps a Bot API error; the library returns it both by
// value and by pointer depending on the call path.
func asTelegramError(err error) (tgbotapi.Error, bool) {
	var apiErr tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *tgbotapi.Error
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramTooManyRequests(err error) bool {
	apiErr, ok := asTelegramError(err)
	return ok && apiErr.Code == 429
}

func getTelegramRetryAfter(err error) time.Duration {
	apiErr, ok := asTelegramError(err)
	if ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// extractInbound maps a webhook update to an inbound message. Only private
// messages with text, a caption, a document or a photo are accepted.
func extractInbound(update tgbotapi.Update) (channel.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := msg.Text
	if strings.TrimSpace(text) == "" {
		text = msg.Caption
	}
	attachments := collectTelegramAttachments(msg)
	inbound := channel.InboundMessage{
		Channel: Type,
		Message: channel.Message{
			Text:        text,
			Attachments: attachments,
		},
		Sender: channel.Identity{
			SubjectID:   strconv.FormatInt(msg.Chat.ID, 10),
			DisplayName: displayName(msg.From),
		},
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
		Metadata: map[string]any{
			"update_id":  update.UpdateID,
			"message_id": msg.MessageID,
			"user_id":    msg.From.ID,
		},
	}
	if inbound.Message.IsEmpty() {
		return channel.InboundMessage{}, false
	}
	return inbound, true
}

func displayName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	if name := strings.TrimSpace(user.UserName); name != "" {
		return name
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

func collectTelegramAttachments(msg *tgbotapi.Message) []channel.Attachment {
	attachments := make([]channel.Attachment, 0, 1)
	if len(msg.Photo) > 0 {
		photo := pickTelegramPhoto(msg.Photo)
		attachments = append(attachments, buildTelegramAttachment(channel.AttachmentImage, photo.FileID, "", "image/jpeg", int64(photo.FileSize)))
	}
	if msg.Document != nil {
		attType := channel.AttachmentTypeFromMime(msg.Document.MimeType)
		attachments = append(attachments, buildTelegramAttachment(attType, msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, int64(msg.Document.FileSize)))
	}
	return attachments
}

// buildTelegramAttachment keeps only the file id; the download URL embeds the
// bot token and is resolved when the attachment is fetched.
func buildTelegramAttachment(attType channel.AttachmentType, fileID, name, mime string, size int64) channel.Attachment {
	return channel.Attachment{
		Type:           attType,
		PlatformKey:    strings.TrimSpace(fileID),
		SourcePlatform: Type.String(),
		Name:           strings.TrimSpace(name),
		Mime:           strings.TrimSpace(mime),
		Size:           size,
	}
}

// ResolveAttachment resolves a Telegram attachment reference to a byte stream.
// It supports platform_key-based references and URL fallback.
func (a *TelegramAdapter) ResolveAttachment(ctx context.Context, attachment channel.Attachment) (channel.AttachmentPayload, error) {
	fileID := strings.TrimSpace(attachment.PlatformKey)
	downloadURL := strings.TrimSpace(attachment.URL)
	if fileID == "" && downloadURL == "" {
		return channel.AttachmentPayload{}, fmt.Errorf("telegram attachment requires platform_key or url")
	}
	if downloadURL == "" {
		bot, err := a.getOrCreateBot()
		if err != nil {
			return channel.AttachmentPayload{}, err
		}
		downloadURL, err = bot.GetFileDirectURL(fileID)
		if err != nil {
			return channel.AttachmentPayload{}, fmt.Errorf("resolve telegram file url: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return channel.AttachmentPayload{}, fmt.Errorf("build download request: %w", err)
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
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

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// sanitizeTelegramText ensures text is valid UTF-8 for the Telegram API.
func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	return truncateAt(text, telegramMaxMessageLength)
}

const telegramMaxCaptionLength = 1024

func truncateCaption(text string) string {
	return truncateAt(text, telegramMaxCaptionLength)
}

func truncateAt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	const suffix = "..."
	limit := max - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

// slogBotLogger routes the Bot API library's logging through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

// Probe verifies the bot token with getMe.
func (a *TelegramAdapter) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := a.getOrCreateBot()
	if err != nil {
		return err
	}
	if _, err := bot.GetMe(); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}
