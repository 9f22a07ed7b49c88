// Package intake runs one conversation turn per inbound channel message:
// it serializes turns per user, applies attachments and text to the session
// and sends the replies.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/intake/internal/attachment"
	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/conversation"
	"github.com/memohai/intake/internal/session"
)

const apology = "Sorry, something went wrong on our side. Please send your last message again."

// Engine advances a session by one text input.
type Engine interface {
	Advance(ctx context.Context, sess session.Session, in conversation.Input) (conversation.Turn, error)
}

// Attachments stores attachments and handles spreadsheet uploads.
type Attachments interface {
	Ingest(ctx context.Context, att channel.Attachment, sess session.Session) (session.Session, string, error)
	IngestBulk(ctx context.Context, att channel.Attachment, sess session.Session) (attachment.BulkResult, string, error)
}

// Sender delivers replies to the user.
type Sender interface {
	Send(ctx context.Context, target channel.Target, msg channel.Message) error
}

// Processor implements channel.InboundHandler.
type Processor struct {
	logger      *slog.Logger
	sessions    session.Store
	locker      session.Locker
	engine      Engine
	attachments Attachments
	sender      Sender
}

// NewProcessor wires the turn pipeline.
func NewProcessor(log *slog.Logger, sessions session.Store, locker session.Locker, engine Engine, attachments Attachments, sender Sender) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		logger:      log.With(slog.String("service", "intake")),
		sessions:    sessions,
		locker:      locker,
		engine:      engine,
		attachments: attachments,
		sender:      sender,
	}
}

// HandleInbound processes one message. Attachments are handled before the
// text so a detail submission in the same message carries the attachment.
// Errors are returned only when the session could not be loaded or saved and
// the turn created no request record; once a record exists the message is
// acknowledged so a platform redelivery cannot submit it twice.
func (p *Processor) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	key := msg.UserKey()
	if msg.Sender.SubjectID == "" {
		return fmt.Errorf("inbound message without sender")
	}
	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", key, err)
	}
	defer unlock()

	sess, err := p.sessions.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load session %s: %w", key, err)
	}
	sess.UserID = key
	target := msg.ReplyTarget()

	var (
		replies   []string
		submitted []string
	)
	for _, att := range msg.Message.Attachments {
		if attachment.IsSpreadsheet(att.Mime, att.Name) {
			result, ack, err := p.attachments.IngestBulk(ctx, att, sess)
			p.logAttachmentError(key, err)
			if err == nil {
				p.logger.Info("bulk upload submitted", slog.String("user", key), slog.String("request_id", result.RequestID), slog.Int("records", result.Records))
				submitted = append(submitted, result.RequestID)
			}
			replies = append(replies, ack)
			continue
		}
		next, ack, err := p.attachments.Ingest(ctx, att, sess)
		p.logAttachmentError(key, err)
		sess = next
		replies = append(replies, ack)
	}

	if text := msg.Message.PlainText(); text != "" {
		turn, err := p.engine.Advance(ctx, sess, conversation.Input{Text: text})
		if err != nil {
			p.reply(ctx, target, apology)
			return fmt.Errorf("advance session %s: %w", key, err)
		}
		sess = turn.Session
		replies = append(replies, turn.Replies...)
		if turn.RequestID != "" {
			submitted = append(submitted, turn.RequestID)
		}
	}

	if err := p.sessions.Put(ctx, sess); err != nil {
		if len(submitted) == 0 {
			p.reply(ctx, target, apology)
			return fmt.Errorf("save session %s: %w", key, err)
		}
		p.logger.Error("save session failed after submission",
			slog.String("user", key),
			slog.Any("request_ids", submitted),
			slog.Any("error", err))
	}
	for _, text := range replies {
		p.reply(ctx, target, text)
	}
	return nil
}

func (p *Processor) logAttachmentError(user string, err error) {
	if err == nil {
		return
	}
	level := slog.LevelError
	if errors.Is(err, attachment.ErrNotAccepted) || errors.Is(err, attachment.ErrUnreadableSpreadsheet) {
		level = slog.LevelInfo
	}
	p.logger.Log(context.Background(), level, "attachment not stored", slog.String("user", user), slog.Any("error", err))
}

// reply sends one message; delivery failures are logged since the outbound
// pipeline has already retried.
func (p *Processor) reply(ctx context.Context, target channel.Target, text string) {
	if text == "" || p.sender == nil {
		return
	}
	if err := p.sender.Send(ctx, target, channel.Message{Text: text}); err != nil {
		p.logger.Error("send reply failed", slog.String("target", target.String()), slog.Any("error", err))
	}
}
