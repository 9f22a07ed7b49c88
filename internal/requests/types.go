// Package requests defines request records, the declarative field table for
// each request type, and the stores that persist records.
package requests

import (
	"context"
	"errors"
	"time"
)

// Type identifies what a user is asking for. The set is closed.
type Type string

const (
	TypeRefund           Type = "refund"
	TypeSystemBalance    Type = "system_balance"
	TypeStationery       Type = "stationery"
	TypeAddCustomer      Type = "add_customer"
	TypeUnblockCustomer  Type = "unblock_customer"
	TypeCreditNotes      Type = "credit_notes"
	TypeCallback         Type = "callback"
	TypeOverSaleApproval Type = "over_sale_approval"
	TypeTDDocument       Type = "td_document"
	TypeGRNStatement     Type = "grn_statement"
	TypeStockSheet       Type = "stock_sheet"
	TypeLeaveForm        Type = "leave_form"
	TypeTDStatement      Type = "td_statement"
	TypeEscalation       Type = "escalation"
	TypeBulkCustomers    Type = "bulk_customers"
)

// Category groups request types by the menu branch that produces them.
type Category string

const (
	CategoryQuery      Category = "query"
	CategoryApproval   Category = "approval"
	CategoryDocument   Category = "document"
	CategoryEscalation Category = "escalation"
	CategoryBulk       Category = "bulk"
)

// Category returns the branch the type belongs to, or "" for unknown types.
func (t Type) Category() Category {
	switch t {
	case TypeRefund, TypeSystemBalance, TypeStationery, TypeAddCustomer,
		TypeUnblockCustomer, TypeCreditNotes, TypeCallback:
		return CategoryQuery
	case TypeOverSaleApproval:
		return CategoryApproval
	case TypeTDDocument, TypeGRNStatement, TypeStockSheet, TypeLeaveForm, TypeTDStatement:
		return CategoryDocument
	case TypeEscalation:
		return CategoryEscalation
	case TypeBulkCustomers:
		return CategoryBulk
	default:
		return ""
	}
}

// Valid reports whether t is one of the known request types.
func (t Type) Valid() bool {
	return t.Category() != ""
}

// Status is the lifecycle state of a request record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

var (
	// ErrNotFound indicates no record carries the requested id.
	ErrNotFound = errors.New("request not found")
	// ErrDuplicateID indicates the request id already exists.
	ErrDuplicateID = errors.New("request id already exists")
	// ErrTerminalStatus indicates the record is completed or rejected and
	// accepts no further updates.
	ErrTerminalStatus = errors.New("request is already closed")
)

// Record is a submitted request. The submission service is its only creator;
// the response relay is the only writer of Status and OperatorResponse.
type Record struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Region           string         `json:"region"`
	Store            string         `json:"store"`
	Type             Type           `json:"request_type"`
	Payload          map[string]any `json:"payload"`
	AttachmentRef    string         `json:"attachment_ref,omitempty"`
	Status           Status         `json:"status"`
	OperatorResponse string         `json:"operator_response,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CreateInput carries the fields of a new record. Status always starts pending.
type CreateInput struct {
	UserID        string
	Region        string
	Store         string
	Type          Type
	Payload       map[string]any
	AttachmentRef string
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	UserID string
	Store  string
	Region string
	Status Status
	Limit  int
}

// Filters lists the distinct values available for admin filtering.
type Filters struct {
	Stores   []string `json:"stores"`
	Regions  []string `json:"regions"`
	Statuses []Status `json:"statuses"`
}

// Stats aggregates record counts.
type Stats struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	InProgress int            `json:"in_progress"`
	Completed  int            `json:"completed"`
	Rejected   int            `json:"rejected"`
	Today      int            `json:"today"`
	ByStore    map[string]int `json:"by_store"`
	ByRegion   map[string]int `json:"by_region"`
}

// Store persists request records.
type Store interface {
	// Create inserts a record under id. It returns ErrDuplicateID on collision.
	Create(ctx context.Context, id string, input CreateInput) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// List returns matching records, most recent first.
	List(ctx context.Context, filter Filter) ([]Record, error)
	// UpdateStatus sets status and response and bumps UpdatedAt.
	UpdateStatus(ctx context.Context, id string, status Status, response string) (Record, error)
	Filters(ctx context.Context) (Filters, error)
	// Stats counts records; Today counts those created since the start of now's day.
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// AllStatuses returns statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusRejected}
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
