// Package session holds per-user conversation state and its persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/memohai/intake/internal/requests"
)

// Step is the user's position in the conversation.
type Step string

const (
	StepGreeting        Step = "greeting"
	StepSelectRegion    Step = "select_region"
	StepSelectStore     Step = "select_store"
	StepMainMenu        Step = "main_menu"
	StepQuery           Step = "query"
	StepApproval        Step = "approval"
	StepDocument        Step = "document"
	StepTraining        Step = "training"
	StepEscalation      Step = "escalation"
	StepQueryDetails    Step = "query_details"
	StepDocumentDetails Step = "document_details"
)

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	switch s {
	case StepGreeting, StepSelectRegion, StepSelectStore, StepMainMenu,
		StepQuery, StepApproval, StepDocument, StepTraining, StepEscalation,
		StepQueryDetails, StepDocumentDetails:
		return true
	default:
		return false
	}
}

// AcceptsAttachment reports whether a pending attachment may be held on s.
func (s Step) AcceptsAttachment() bool {
	return s == StepQueryDetails || s == StepDocumentDetails || s == StepApproval
}

// CapturesDetails reports whether s carries an active request type.
func (s Step) CapturesDetails() bool {
	return s == StepQueryDetails || s == StepDocumentDetails
}

// NeedsStore reports whether s requires a selected region and store.
func (s Step) NeedsStore() bool {
	switch s {
	case StepGreeting, StepSelectRegion, StepSelectStore:
		return false
	default:
		return true
	}
}

// PendingAttachment references an uploaded file awaiting submission.
type PendingAttachment struct {
	URL       string `json:"url"`
	StorageID string `json:"storageId"`
	Mime      string `json:"mime,omitempty"`
}

// Session is the persisted conversation state of one user.
type Session struct {
	UserID            string             `json:"-"`
	Step              Step               `json:"step"`
	SelectedRegion    string             `json:"selectedRegion,omitempty"`
	SelectedStore     string             `json:"selectedStore,omitempty"`
	ActiveRequestType requests.Type      `json:"activeRequestType,omitempty"`
	PendingAttachment *PendingAttachment `json:"pendingAttachment,omitempty"`
	UpdatedAt         time.Time          `json:"updatedAt,omitzero"`
}

// New returns the default session for a user with no stored state.
func New(userID string) Session {
	return Session{UserID: userID, Step: StepGreeting}
}

// Reset clears everything and restarts at region selection.
func (s Session) Reset() Session {
	return Session{UserID: s.UserID, Step: StepSelectRegion}
}

// ToMainMenu keeps the store selection and drops any in-flight request.
func (s Session) ToMainMenu() Session {
	s.Step = StepMainMenu
	s.ActiveRequestType = ""
	s.PendingAttachment = nil
	return s
}

// HasStore reports whether both region and store are selected.
func (s Session) HasStore() bool {
	return s.SelectedRegion != "" && s.SelectedStore != ""
}

var ErrInvalidSession = errors.New("invalid session")

// Validate checks the structural invariants of a session.
func (s Session) Validate() error {
	if !s.Step.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidSession, s.Step)
	}
	if s.Step.CapturesDetails() != (s.ActiveRequestType != "") {
		return fmt.Errorf("%w: active request type %q on step %s", ErrInvalidSession, s.ActiveRequestType, s.Step)
	}
	if s.PendingAttachment != nil && !s.Step.AcceptsAttachment() {
		return fmt.Errorf("%w: pending attachment on step %s", ErrInvalidSession, s.Step)
	}
	return nil
}

// Store persists sessions keyed by user id.
type Store interface {
	// Get returns the stored session, or the default session when none exists.
	Get(ctx context.Context, userID string) (Session, error)
	// Put overwrites the stored session.
	Put(ctx context.Context, sess Session) error
}

// Locker serializes turns for the same key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
