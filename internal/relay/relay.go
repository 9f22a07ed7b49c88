// Package relay delivers operator responses back to the user who raised the
// request.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/requests"
)

// ErrRequestNotFound is returned for unknown request ids.
var ErrRequestNotFound = errors.New("request not found")

// ErrInvalidStatus is returned for statuses an operator may not set.
var ErrInvalidStatus = errors.New("invalid response status")

// ErrRequestClosed is returned when the request is already completed or
// rejected.
var ErrRequestClosed = errors.New("request already closed")

// Sender delivers a message to a channel target.
type Sender interface {
	Send(ctx context.Context, target channel.Target, msg channel.Message) error
}

// Service updates request records and informs their owners.
type Service struct {
	logger *slog.Logger
	store  requests.Store
	sender Sender
}

// NewService creates a relay service.
func NewService(log *slog.Logger, store requests.Store, sender Sender) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "relay")),
		store:  store,
		sender: sender,
	}
}

// Relay records the operator response and status, then sends one message to
// the request owner. A failed send is logged; the update stays in place.
func (s *Service) Relay(ctx context.Context, requestID, response string, status requests.Status) (requests.Record, error) {
	requestID = strings.TrimPrefix(strings.TrimSpace(requestID), "#")
	if requestID == "" {
		return requests.Record{}, ErrRequestNotFound
	}
	if !status.Valid() || status == requests.StatusPending {
		return requests.Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	record, err := s.store.UpdateStatus(ctx, requestID, status, strings.TrimSpace(response))
	if err != nil {
		switch {
		case errors.Is(err, requests.ErrNotFound):
			return requests.Record{}, ErrRequestNotFound
		case errors.Is(err, requests.ErrTerminalStatus):
			return requests.Record{}, fmt.Errorf("%w: %s", ErrRequestClosed, requestID)
		}
		return requests.Record{}, fmt.Errorf("update request: %w", err)
	}
	s.notify(ctx, record)
	return record, nil
}

func (s *Service) notify(ctx context.Context, record requests.Record) {
	if s.sender == nil {
		return
	}
	target, err := channel.ParseTarget(record.UserID)
	if err != nil {
		s.logger.Warn("request owner is not addressable",
			slog.String("request_id", record.ID),
			slog.String("user", record.UserID),
			slog.Any("error", err))
		return
	}
	if err := s.sender.Send(ctx, target, channel.Message{Text: UserMessage(record)}); err != nil {
		s.logger.Error("relay notification failed",
			slog.String("request_id", record.ID),
			slog.String("user", record.UserID),
			slog.Any("error", err))
	}
}

// UserMessage renders the update the request owner receives.
func UserMessage(record requests.Record) string {
	var b strings.Builder
	switch record.Status {
	case requests.StatusCompleted:
		b.WriteString("✅ Your request has been completed!")
	case requests.StatusRejected:
		b.WriteString("❌ Your request has been rejected.")
	default:
		b.WriteString("⏳ Your request is being processed.")
	}
	fmt.Fprintf(&b, "\n\nQuery ID: #%s\nType: %s\nStatus: %s", record.ID, record.Type, record.Status)
	if record.OperatorResponse != "" {
		fmt.Fprintf(&b, "\n\nResponse: %s", record.OperatorResponse)
	}
	b.WriteString("\n\nType \"my requests\" to see all your requests.")
	return b.String()
}
