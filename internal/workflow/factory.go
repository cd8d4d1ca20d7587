// ABOUTME: Factory builds Workflows of one type from fresh settings and stored history
// ABOUTME: Resolves the provider before any call, checks ownership, replays MessageGroups

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/history"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/settings"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
)

var (
	// ErrMissingSetting is returned when a required setting has no value.
	ErrMissingSetting = errors.New("required setting is missing")
	// ErrAuthorization is returned when a user opens a workflow they do not own.
	ErrAuthorization = errors.New("not authorized for workflow")
	// ErrUnknownType is returned for a workflow type with no definition.
	ErrUnknownType = errors.New("unknown workflow type")
)

// DefaultMaxMessages bounds count-based History when nothing else is set.
const DefaultMaxMessages = 100

// SettingsReader is the read side of the settings contract.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// ProviderLookup resolves inference providers by id.
type ProviderLookup interface {
	Inference(id string) (provider.Inference, error)
}

// Store is the persistence a Factory needs.
type Store interface {
	store.WorkflowStore
	store.MessageStore
	store.UsageStore
}

// TokenizerFunc returns a tokenizer for a model.
type TokenizerFunc func(model string) (history.Tokenizer, error)

// Params are the caller-supplied parts of a new workflow.
type Params struct {
	Title string
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	Definition Definition
	Settings   SettingsReader
	Providers  ProviderLookup
	Store      Store
	Executor   *tools.Executor

	// MaxTokens > 0 selects token-bounded History; it falls back to
	// MaxMessages when no tokenizer exists for the model.
	MaxTokens   int
	MaxMessages int
	Tokenizer   TokenizerFunc

	MaxIterations   int
	MaxOutputTokens int
	Logger          *slog.Logger
}

// Factory builds Workflows of one type.
type Factory struct {
	cfg    FactoryConfig
	logger *slog.Logger
}

// NewFactory validates cfg and creates a Factory. Every tool the
// definition names must be registered.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Definition.Name == "" {
		return nil, errors.New("workflow factory: definition name is required")
	}
	if cfg.Settings == nil || cfg.Providers == nil || cfg.Store == nil || cfg.Executor == nil {
		return nil, errors.New("workflow factory: settings, providers, store and executor are required")
	}
	if missing, ok := cfg.Executor.Registry().Has(cfg.Definition.Tools...); !ok {
		return nil, fmt.Errorf("workflow type %q: %w: %s", cfg.Definition.Name, tools.ErrUnknownTool, missing)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = history.NewTiktoken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger.With("component", "workflow-factory", "workflow_type", cfg.Definition.Name),
	}, nil
}

// Type returns the workflow type this factory builds.
func (f *Factory) Type() string { return f.cfg.Definition.Name }

// binding is what the settings resolve to for one workflow.
type binding struct {
	providerID   string
	provider     provider.Inference
	model        string
	instructions string
}

// resolve reads the type's settings and looks the provider up. It runs
// before any other work so misconfiguration surfaces here.
func (f *Factory) resolve(ctx context.Context) (*binding, error) {
	typ := f.cfg.Definition.Name

	providerID, ok, err := f.cfg.Settings.Get(ctx, settings.ProviderKey(typ))
	if err != nil {
		return nil, err
	}
	if !ok || providerID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingSetting, settings.ProviderKey(typ))
	}
	inf, err := f.cfg.Providers.Inference(providerID)
	if err != nil {
		return nil, fmt.Errorf("workflow type %q: %w", typ, err)
	}

	model, _, err := f.cfg.Settings.Get(ctx, settings.ModelKey(typ))
	if err != nil {
		return nil, err
	}
	instructions, ok, err := f.cfg.Settings.Get(ctx, settings.InstructionsKey(typ))
	if err != nil {
		return nil, err
	}
	if !ok || instructions == "" {
		instructions = f.cfg.Definition.Instructions
	}

	return &binding{providerID: providerID, provider: inf, model: model, instructions: instructions}, nil
}

func (f *Factory) newHistory(model string) history.History {
	if f.cfg.MaxTokens > 0 {
		tok, err := f.cfg.Tokenizer(model)
		if err == nil {
			return history.NewTokenWindow(f.cfg.MaxTokens, tok)
		}
		f.logger.Info("no tokenizer for model, bounding history by message count",
			"model", model,
			"max_messages", f.cfg.MaxMessages,
			"error", err,
		)
	}
	return history.NewCountWindow(f.cfg.MaxMessages)
}

func (f *Factory) newAgent(id, userID string, b *binding, h history.History) (*conversation.Agent, error) {
	return conversation.NewAgent(conversation.Config{
		WorkflowID:    id,
		UserID:        userID,
		ProviderID:    b.providerID,
		Model:         b.model,
		Instructions:  b.instructions,
		Provider:      b.provider,
		History:       h,
		Tools:         f.cfg.Executor.Toolset(f.cfg.Definition.Tools...),
		Store:         f.cfg.Store,
		MaxIterations: f.cfg.MaxIterations,
		MaxTokens:     f.cfg.MaxOutputTokens,
		Logger:        f.logger,
	})
}

// New creates a workflow for userID with an empty History. The workflow
// row is written now so ownership checks work before the first message.
func (f *Factory) New(ctx context.Context, userID string, em conversation.Emitter, params Params) (*Workflow, error) {
	b, err := f.resolve(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &store.Workflow{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       f.cfg.Definition.Name,
		Title:      params.Title,
		ProviderID: b.providerID,
		Model:      b.model,
		State:      store.WorkflowActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	agent, err := f.newAgent(row.ID, userID, b, f.newHistory(b.model))
	if err != nil {
		return nil, err
	}
	if err := f.cfg.Store.CreateWorkflow(ctx, row); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}

	f.logger.Info("workflow created",
		"workflow_id", row.ID,
		"user_id", userID,
		"provider", b.providerID,
		"model", b.model,
	)
	return newWorkflow(row.ID, userID, row.Type, agent, em), nil
}

// Existing resumes workflowID for userID, replaying its stored groups.
func (f *Factory) Existing(ctx context.Context, userID, workflowID string, em conversation.Emitter) (*Workflow, error) {
	row, err := f.cfg.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		f.logger.Warn("workflow access denied", "workflow_id", workflowID, "user_id", userID)
		return nil, ErrAuthorization
	}
	if row.Type != f.cfg.Definition.Name {
		return nil, fmt.Errorf("%w: workflow %s has type %q", ErrUnknownType, workflowID, row.Type)
	}
	if row.State == store.WorkflowClosed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, workflowID)
	}

	b, err := f.resolve(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := f.cfg.Store.GetMessageGroups(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading message groups: %w", err)
	}
	h := f.newHistory(b.model)
	var replayed int
	for _, g := range groups {
		for _, m := range g.Messages {
			for _, c := range m.ToolCalls {
				f.cfg.Executor.Remember(workflowID, c.ID)
			}
			if err := h.Add(m); err != nil {
				f.logger.Debug("skipping message during replay", "workflow_id", workflowID, "group_id", g.ID, "error", err)
				continue
			}
			replayed++
		}
	}

	agent, err := f.newAgent(workflowID, userID, b, h)
	if err != nil {
		return nil, err
	}

	f.logger.Info("workflow resumed",
		"workflow_id", workflowID,
		"user_id", userID,
		"groups", len(groups),
		"messages", replayed,
		"history", h.Len(),
		"provider", b.providerID,
	)
	return newWorkflow(workflowID, userID, row.Type, agent, em), nil
}
