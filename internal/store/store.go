// ABOUTME: Store interfaces and data types for workflow-gateway persistence
// ABOUTME: Workflows, message groups, usage, settings, issues, and bookings

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/workflow-gateway/internal/llm"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEmptyGroup is returned when inserting a message group with no messages
var ErrEmptyGroup = errors.New("message group has no messages")

// ErrDuplicate is returned when an entity with the same id already exists
var ErrDuplicate = errors.New("already exists")

// WorkflowState is the lifecycle state of a workflow.
type WorkflowState string

const (
	WorkflowActive WorkflowState = "active"
	WorkflowClosed WorkflowState = "closed"
)

// Workflow is the persisted record of one conversation workflow.
// ProviderID and Model record what the workflow was created with.
type Workflow struct {
	ID         string
	UserID     string
	Type       string
	Title      string
	ProviderID string
	Model      string
	State      WorkflowState
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
}

// WorkflowFilter narrows ListWorkflows. Empty fields match everything.
type WorkflowFilter struct {
	UserID string
	Type   string
	State  WorkflowState
	Limit  int
}

// MessageGroup is the ordered set of messages produced by one turn.
type MessageGroup struct {
	ID         string
	WorkflowID string
	Seq        int
	Messages   []llm.Message
	CreatedAt  time.Time
}

// TokenUsage records the tokens consumed by one provider round trip.
// RequestID identifies the turn; GroupID is filled in once the turn's
// MessageGroup has been written.
type TokenUsage struct {
	ID               string
	WorkflowID       string
	UserID           string
	RequestID        string
	GroupID          string
	ProviderID       string
	Model            string
	PromptTokens     int
	CompletionTokens int
	FinishReason     llm.FinishReason
	CreatedAt        time.Time
}

// UsageFilter narrows GetUsageStats. Nil fields match everything.
type UsageFilter struct {
	UserID     *string
	WorkflowID *string
	Model      *string
	Since      *time.Time
	Until      *time.Time
}

// UsageStats aggregates TokenUsage records.
type UsageStats struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	RequestCount     int64
}

// Setting is one key/value pair.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Issue status values.
const (
	IssueOpen       = "open"
	IssueInProgress = "in_progress"
	IssueResolved   = "resolved"
	IssueClosed     = "closed"
)

// Issue is a ticket filed through the issues workflow.
type Issue struct {
	ID          string
	WorkflowID  string
	UserID      string
	Title       string
	Description string
	Priority    string // low, medium, high
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Booking status values.
const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking is a flight reservation made through the travel workflow.
type Booking struct {
	ID          string
	WorkflowID  string
	UserID      string
	FlightID    string
	Passenger   string
	Origin      string
	Destination string
	Departure   time.Time
	Status      string
	CreatedAt   time.Time
}

// WorkflowStore persists workflow records.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	CloseWorkflow(ctx context.Context, id string) error
}

// MessageStore persists message groups.
type MessageStore interface {
	// InsertMessageGroup writes all messages of a turn atomically.
	InsertMessageGroup(ctx context.Context, workflowID string, msgs []llm.Message) (*MessageGroup, error)
	// GetMessageGroups returns a workflow's groups in sequence order.
	GetMessageGroups(ctx context.Context, workflowID string) ([]*MessageGroup, error)
}

// UsageStore persists token usage.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	LinkUsageToGroup(ctx context.Context, requestID, groupID string) error
	GetWorkflowUsage(ctx context.Context, workflowID string) ([]*TokenUsage, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// SettingsStore persists settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*Setting, error)
	ListSettings(ctx context.Context) ([]*Setting, error)
	PutSetting(ctx context.Context, key, value string) error
	// SeedSetting stores value only if key is unset. It reports whether it
	// wrote anything.
	SeedSetting(ctx context.Context, key, value string) (bool, error)
}

// IssueStore persists issues.
type IssueStore interface {
	CreateIssue(ctx context.Context, issue *Issue) error
	ListIssues(ctx context.Context, userID, status string) ([]*Issue, error)
	UpdateIssueStatus(ctx context.Context, id, userID, status string) (*Issue, error)
}

// BookingStore persists bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *Booking) error
	ListBookings(ctx context.Context, userID string) ([]*Booking, error)
	CancelBooking(ctx context.Context, id, userID string) (*Booking, error)
}

// Store is everything the gateway persists.
type Store interface {
	WorkflowStore
	MessageStore
	UsageStore
	SettingsStore
	IssueStore
	BookingStore
	Close() error
}
