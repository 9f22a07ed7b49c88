// Package submission turns completed conversations into persisted request
// records and tells the team about them.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/intake/internal/prune"
	"github.com/memohai/intake/internal/requests"
)

const maxIDAttempts = 5

// Broadcaster notifies every team recipient; failures stay inside it.
type Broadcaster interface {
	Broadcast(ctx context.Context, subject, body string) int
}

// Input is a completed request ready to be recorded.
type Input struct {
	UserID        string
	Region        string
	Store         string
	Type          requests.Type
	Payload       map[string]any
	AttachmentRef string
}

// PersistenceError reports that the record could not be written.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist request: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Service validates, stores and announces requests.
type Service struct {
	logger   *slog.Logger
	store    requests.Store
	notifier Broadcaster
	now      func() time.Time
}

// NewService creates a submission service. notifier may be nil.
func NewService(log *slog.Logger, store requests.Store, notifier Broadcaster) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:   log.With(slog.String("service", "submission")),
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Submit validates the payload, creates a pending record under a fresh id and
// then notifies the team. Notification outcome never affects the result.
func (s *Service) Submit(ctx context.Context, in Input) (string, error) {
	if !in.Type.Valid() {
		return "", &requests.ValidationError{Type: in.Type, Reason: "unknown request type"}
	}
	if err := requests.Validate(in.Type, in.Payload); err != nil {
		return "", err
	}
	record, err := s.create(ctx, in)
	if err != nil {
		return "", &PersistenceError{Err: err}
	}
	s.logger.Info("request submitted",
		slog.String("request_id", record.ID),
		slog.String("type", string(record.Type)),
		slog.String("store", record.Store),
	)
	if s.notifier != nil {
		subject, body := TeamMessage(record)
		if delivered := s.notifier.Broadcast(ctx, subject, body); delivered == 0 {
			s.logger.Warn("no team recipient notified", slog.String("request_id", record.ID))
		}
	}
	return record.ID, nil
}

// create retries id generation on collision; any other store error is final.
func (s *Service) create(ctx context.Context, in Input) (requests.Record, error) {
	input := requests.CreateInput{
		UserID:        in.UserID,
		Region:        in.Region,
		Store:         in.Store,
		Type:          in.Type,
		Payload:       in.Payload,
		AttachmentRef: in.AttachmentRef,
	}
	for attempt := 1; ; attempt++ {
		record, err := s.store.Create(ctx, requests.NewID(s.now()), input)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, requests.ErrDuplicateID) || attempt >= maxIDAttempts {
			return requests.Record{}, err
		}
		s.logger.Warn("request id collision, regenerating", slog.Int("attempt", attempt))
	}
}

// TeamMessage renders the notification announcing a new record.
func TeamMessage(record requests.Record) (string, string) {
	schema, _ := requests.SchemaFor(record.Type)
	title := schema.Title
	if title == "" {
		title = strings.ToUpper(string(record.Type))
	}
	subject := fmt.Sprintf("New %s #%s", title, record.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "🆕 %s %s\n\n", schema.Icon, title)
	fmt.Fprintf(&b, "Request ID: #%s\n", record.ID)
	fmt.Fprintf(&b, "Region: %s\n", record.Region)
	fmt.Fprintf(&b, "Store: %s\n", record.Store)
	fmt.Fprintf(&b, "From: %s\n", record.UserID)
	if details := requests.Describe(record.Type, record.Payload); details != "" {
		b.WriteString("\n")
		b.WriteString(prune.Clip(details, "details", prune.TeamMessageConfig()))
		b.WriteString("\n")
	}
	if record.AttachmentRef != "" {
		fmt.Fprintf(&b, "\n📎 Attachment: %s\n", record.AttachmentRef)
	}
	return subject, strings.TrimSpace(b.String())
}
