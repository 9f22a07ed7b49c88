// Package conversation drives the menu-based intake dialogue: it interprets
// each inbound text against the user's current step and submits completed
// requests.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/submission"
)

const statusListLimit = 10

// Submitter records completed requests.
type Submitter interface {
	Submit(ctx context.Context, in submission.Input) (string, error)
}

// RequestLister reads a user's past requests.
type RequestLister interface {
	List(ctx context.Context, filter requests.Filter) ([]requests.Record, error)
}

// Input is the text part of one inbound message.
type Input struct {
	Text string
}

// Turn is the outcome of advancing a session by one input.
type Turn struct {
	Session session.Session
	Replies []string
	// RequestID is set when the turn created a request record.
	RequestID string
}

// Engine advances sessions. It is stateless; callers persist Turn.Session.
type Engine struct {
	logger    *slog.Logger
	catalog   Catalog
	submitter Submitter
	lister    RequestLister
	now       func() time.Time
}

// NewEngine creates a conversation engine over the given catalog.
func NewEngine(log *slog.Logger, catalog Catalog, submitter Submitter, lister RequestLister) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		logger:    log.With(slog.String("service", "conversation")),
		catalog:   catalog,
		submitter: submitter,
		lister:    lister,
		now:       time.Now,
	}
}

// Catalog returns the option tables the engine renders.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// Advance applies one input to sess. Submission failures are reported to the
// user and keep the in-progress request; only lookup of the user's requests
// and submission touch storage.
func (e *Engine) Advance(ctx context.Context, sess session.Session, in Input) (Turn, error) {
	d := transition(e.catalog, sess, in.Text)
	turn := Turn{Session: d.next, Replies: d.replies}

	if d.listStatus {
		turn.Replies = append(turn.Replies, e.listStatus(ctx, sess.UserID))
	}
	if d.submit != nil {
		turn = e.submit(ctx, sess, *d.submit)
	}

	if err := turn.Session.Validate(); err != nil {
		e.logger.Error("transition produced invalid session",
			slog.String("user", sess.UserID),
			slog.String("step", string(sess.Step)),
			slog.Any("error", err))
		return Turn{Session: sess.Reset(), Replies: []string{greetingPrompt(e.catalog)}}, nil
	}
	turn.Session.UpdatedAt = e.now().UTC()
	return turn, nil
}

func (e *Engine) submit(ctx context.Context, sess session.Session, intent submitIntent) Turn {
	in := submission.Input{
		UserID:  sess.UserID,
		Region:  sess.SelectedRegion,
		Store:   sess.SelectedStore,
		Type:    intent.Type,
		Payload: intent.Payload,
	}
	if sess.PendingAttachment != nil {
		in.AttachmentRef = sess.PendingAttachment.URL
	}
	id, err := e.submitter.Submit(ctx, in)
	if err != nil {
		var vErr *requests.ValidationError
		if errors.As(err, &vErr) {
			return Turn{Session: sess, Replies: []string{retryPrompt(intent.Type)}}
		}
		// Keep the in-progress request so the user can resend the details.
		e.logger.Error("submit request failed",
			slog.String("user", sess.UserID),
			slog.String("type", string(intent.Type)),
			slog.Any("error", err))
		return Turn{Session: sess, Replies: []string{apology}}
	}
	return Turn{
		Session:   sess.ToMainMenu(),
		Replies:   []string{confirmation(id, intent.Type, intent.Payload, in.AttachmentRef != ""), mainMenuPrompt()},
		RequestID: id,
	}
}

func (e *Engine) listStatus(ctx context.Context, userID string) string {
	if e.lister == nil {
		return statusFailed
	}
	records, err := e.lister.List(ctx, requests.Filter{UserID: userID, Limit: statusListLimit})
	if err != nil {
		e.logger.Error("list user requests failed", slog.String("user", userID), slog.Any("error", err))
		return statusFailed
	}
	return statusListing(records)
}
