// ABOUTME: Manager keeps this process's live workflows keyed by id
// ABOUTME: Create, open or resume, queued sends, idle unloading, and shutdown draining

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

// ErrShuttingDown is returned for work submitted after Shutdown.
var ErrShuttingDown = errors.New("workflow manager is shutting down")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Factories []*Factory
	Store     store.WorkflowStore
	Executor  *tools.Executor
	Logger    *slog.Logger
}

// Manager owns the live workflows of this process.
type Manager struct {
	factories map[string]*Factory
	store     store.WorkflowStore
	executor  *tools.Executor
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	turns   sync.WaitGroup

	mu       sync.Mutex
	live     map[string]*Workflow
	stopping bool
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("workflow manager: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factories := make(map[string]*Factory, len(cfg.Factories))
	for _, f := range cfg.Factories {
		if _, dup := factories[f.Type()]; dup {
			return nil, fmt.Errorf("workflow manager: type %q registered twice", f.Type())
		}
		factories[f.Type()] = f
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factories: factories,
		store:     cfg.Store,
		executor:  cfg.Executor,
		logger:    logger.With("component", "workflow-manager"),
		baseCtx:   ctx,
		cancel:    cancel,
		live:      make(map[string]*Workflow),
	}, nil
}

// Types returns the workflow types that can be created.
func (m *Manager) Types() []string {
	out := make([]string, 0, len(m.factories))
	for t := range m.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Create starts a new workflow of type typ.
func (m *Manager) Create(ctx context.Context, userID, typ string, params Params, em conversation.Emitter) (*Workflow, error) {
	f, ok := m.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	w, err := f.New(ctx, userID, em, params)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		w.Close()
		return nil, ErrShuttingDown
	}
	m.live[w.ID] = w
	return w, nil
}

// Open returns the live workflow, resuming it from storage when needed,
// and attaches em when it is non-nil.
func (m *Manager) Open(ctx context.Context, userID, workflowID string, em conversation.Emitter) (*Workflow, error) {
	m.mu.Lock()
	if w, ok := m.live[workflowID]; ok {
		defer m.mu.Unlock()
		if w.UserID != userID {
			m.logger.Warn("workflow access denied", "workflow_id", workflowID, "user_id", userID)
			return nil, ErrAuthorization
		}
		w.Attach(em)
		return w, nil
	}
	m.mu.Unlock()

	row, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		m.logger.Warn("workflow access denied", "workflow_id", workflowID, "user_id", userID)
		return nil, ErrAuthorization
	}
	f, ok := m.factories[row.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, row.Type)
	}
	resumed, err := f.Existing(ctx, userID, workflowID, em)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		resumed.Close()
		return nil, ErrShuttingDown
	}
	// Another request may have resumed it meanwhile; keep the first.
	if existing, ok := m.live[workflowID]; ok {
		resumed.Close()
		existing.Attach(em)
		return existing, nil
	}
	m.live[workflowID] = resumed
	return resumed, nil
}

// Send queues a turn to run in the background. Validation and
// authorization happen before it returns. Messages to one workflow run in
// the order Send was called.
func (m *Manager) Send(ctx context.Context, userID, workflowID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	for {
		w, err := m.Open(ctx, userID, workflowID, nil)
		if err != nil {
			return err
		}
		if w.State() == store.WorkflowClosed {
			return fmt.Errorf("%w: %s", ErrClosed, workflowID)
		}

		m.mu.Lock()
		if m.stopping {
			m.mu.Unlock()
			return ErrShuttingDown
		}
		if m.live[workflowID] != w {
			// Unloaded after Open returned; load it again.
			m.mu.Unlock()
			continue
		}
		m.turns.Add(1)
		err = w.enqueue(m.baseCtx, content, func(res *conversation.TurnResult, err error) {
			defer m.turns.Done()
			if err != nil {
				m.logger.Warn("turn ended with error", "workflow_id", workflowID, "user_id", userID, "error", err)
			} else {
				m.logger.Debug("turn finished",
					"workflow_id", workflowID,
					"group_id", res.GroupID,
					"finish_reason", res.FinishReason,
					"iteration", res.Iterations,
				)
			}
			m.releaseIfIdle(w)
		})
		if err != nil {
			m.turns.Done()
		}
		m.mu.Unlock()
		return err
	}
}

// Detach removes em from w and unloads w when nothing else holds it.
func (m *Manager) Detach(w *Workflow, em conversation.Emitter) {
	w.Detach(em)
	m.releaseIfIdle(w)
}

// releaseIfIdle drops w from the live set when it has no queued or running
// turn and no emitter. Its history stays in storage for the next Open.
func (m *Manager) releaseIfIdle(w *Workflow) {
	m.mu.Lock()
	if m.live[w.ID] != w || !w.idle() {
		m.mu.Unlock()
		return
	}
	delete(m.live, w.ID)
	m.mu.Unlock()

	w.unload()
	m.logger.Debug("idle workflow unloaded", "workflow_id", w.ID)
}

// Close marks the workflow closed in storage and drops it.
func (m *Manager) Close(ctx context.Context, userID, workflowID string) error {
	row, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if row.UserID != userID {
		return ErrAuthorization
	}
	if err := m.store.CloseWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("closing workflow: %w", err)
	}

	m.mu.Lock()
	w, ok := m.live[workflowID]
	delete(m.live, workflowID)
	m.mu.Unlock()

	if ok {
		w.Close()
	}
	if m.executor != nil {
		m.executor.Forget(workflowID)
	}
	m.logger.Info("workflow closed", "workflow_id", workflowID, "user_id", userID)
	return nil
}

// Live returns how many workflows are loaded.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown stops accepting work and waits for running turns. When ctx ends
// first the turns are cancelled and persist as aborted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.turns.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.cancel()
		<-done
		err = ctx.Err()
	}
	m.cancel()

	m.mu.Lock()
	for id, w := range m.live {
		w.Close()
		delete(m.live, id)
	}
	m.mu.Unlock()
	return err
}
