// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/llm"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	groups    map[string][]*MessageGroup // keyed by workflow id
	usage     []*TokenUsage
	settings  map[string]*Setting
	issues    map[string]*Issue
	bookings  map[string]*Booking

	// FailInsertGroup makes InsertMessageGroup return this error.
	FailInsertGroup error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		workflows: make(map[string]*Workflow),
		groups:    make(map[string][]*MessageGroup),
		settings:  make(map[string]*Setting),
		issues:    make(map[string]*Issue),
		bookings:  make(map[string]*Booking),
	}
}

// CreateWorkflow stores a copy of wf.
func (m *MockStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrDuplicate)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	if wf.State == "" {
		wf.State = WorkflowActive
	}
	c := *wf
	m.workflows[wf.ID] = &c
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (m *MockStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *wf
	return &c, nil
}

// ListWorkflows returns matching workflows, most recently updated first.
func (m *MockStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Workflow
	for _, wf := range m.workflows {
		if filter.UserID != "" && wf.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && wf.Type != filter.Type {
			continue
		}
		if filter.State != "" && wf.State != filter.State {
			continue
		}
		c := *wf
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit := defaultLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseWorkflow marks a workflow closed.
func (m *MockStore) CloseWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	if wf.ClosedAt == nil {
		now := time.Now().UTC()
		wf.ClosedAt = &now
	}
	wf.State = WorkflowClosed
	return nil
}

// InsertMessageGroup appends a group, assigning the next sequence number.
func (m *MockStore) InsertMessageGroup(ctx context.Context, workflowID string, msgs []llm.Message) (*MessageGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertGroup != nil {
		return nil, m.FailInsertGroup
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyGroup
	}
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}

	g := &MessageGroup{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Seq:        len(m.groups[workflowID]) + 1,
		Messages:   llm.CloneAll(msgs),
		CreatedAt:  time.Now().UTC(),
	}
	for i := range g.Messages {
		g.Messages[i].Index = i
	}
	m.groups[workflowID] = append(m.groups[workflowID], g)
	wf.UpdatedAt = g.CreatedAt

	return copyGroup(g), nil
}

// GetMessageGroups returns a workflow's groups in sequence order.
func (m *MockStore) GetMessageGroups(ctx context.Context, workflowID string) ([]*MessageGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*MessageGroup, 0, len(m.groups[workflowID]))
	for _, g := range m.groups[workflowID] {
		out = append(out, copyGroup(g))
	}
	return out, nil
}

func copyGroup(g *MessageGroup) *MessageGroup {
	c := *g
	c.Messages = llm.CloneAll(g.Messages)
	return &c
}

// SaveUsage stores a token usage record.
func (m *MockStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	u := *usage
	m.usage = append(m.usage, &u)
	return nil
}

// LinkUsageToGroup sets the group id on every record of a turn.
func (m *MockStore) LinkUsageToGroup(ctx context.Context, requestID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.usage {
		if u.RequestID == requestID {
			u.GroupID = groupID
		}
	}
	return nil
}

// GetWorkflowUsage retrieves all usage records for a workflow in insertion order.
func (m *MockStore) GetWorkflowUsage(ctx context.Context, workflowID string) ([]*TokenUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TokenUsage
	for _, u := range m.usage {
		if u.WorkflowID == workflowID {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &UsageStats{}
	for _, u := range m.usage {
		if filter.UserID != nil && u.UserID != *filter.UserID {
			continue
		}
		if filter.WorkflowID != nil && u.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.Model != nil && u.Model != *filter.Model {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		stats.PromptTokens += int64(u.PromptTokens)
		stats.CompletionTokens += int64(u.CompletionTokens)
		stats.RequestCount++
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	return stats, nil
}

// GetSetting returns the setting for key.
func (m *MockStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := *st
	return &c, nil
}

// ListSettings returns every setting ordered by key.
func (m *MockStore) ListSettings(ctx context.Context) ([]*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Setting, 0, len(m.settings))
	for _, st := range m.settings {
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PutSetting creates or replaces a setting.
func (m *MockStore) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = &Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// SeedSetting stores value only if key is unset.
func (m *MockStore) SeedSetting(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settings[key]; ok {
		return false, nil
	}
	m.settings[key] = &Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return true, nil
}

// CreateIssue stores an issue.
func (m *MockStore) CreateIssue(ctx context.Context, issue *Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.issues[issue.ID]; exists {
		return fmt.Errorf("issue %s: %w", issue.ID, ErrDuplicate)
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	issue.UpdatedAt = issue.CreatedAt
	if issue.Priority == "" {
		issue.Priority = "medium"
	}
	if issue.Status == "" {
		issue.Status = IssueOpen
	}
	c := *issue
	m.issues[issue.ID] = &c
	return nil
}

// ListIssues returns a user's issues, newest first.
func (m *MockStore) ListIssues(ctx context.Context, userID, status string) ([]*Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Issue
	for _, is := range m.issues {
		if is.UserID != userID || (status != "" && is.Status != status) {
			continue
		}
		c := *is
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateIssueStatus changes the status of a user's issue.
func (m *MockStore) UpdateIssueStatus(ctx context.Context, id, userID, status string) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	is, ok := m.issues[id]
	if !ok || is.UserID != userID {
		return nil, ErrNotFound
	}
	is.Status = status
	is.UpdatedAt = time.Now().UTC()
	c := *is
	return &c, nil
}

// CreateBooking stores a booking.
func (m *MockStore) CreateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Status == "" {
		b.Status = BookingConfirmed
	}
	c := *b
	m.bookings[b.ID] = &c
	return nil
}

// ListBookings returns a user's bookings ordered by departure.
func (m *MockStore) ListBookings(ctx context.Context, userID string) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Departure.Equal(out[j].Departure) {
			return out[i].Departure.Before(out[j].Departure)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CancelBooking cancels a user's booking.
func (m *MockStore) CancelBooking(ctx context.Context, id, userID string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok || b.UserID != userID {
		return nil, ErrNotFound
	}
	b.Status = BookingCancelled
	c := *b
	return &c, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
