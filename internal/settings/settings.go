// ABOUTME: Settings service over the settings store with provider-key validation
// ABOUTME: Get, GetAll, Update, and seeding of configured defaults

package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/store"
)

// ErrInvalidValue is returned by Update when a value is rejected.
var ErrInvalidValue = errors.New("invalid setting value")

// Well-known keys outside the per-type namespace.
const (
	KnowledgeEmbeddingProvider = "knowledge.embeddingProvider"
	KnowledgeVectorProvider    = "knowledge.vectorProvider"
)

// ProviderKey is the key naming the inference provider of a workflow type.
func ProviderKey(workflowType string) string { return workflowType + ".llmProvider" }

// ModelKey is the key naming the model of a workflow type.
func ModelKey(workflowType string) string { return workflowType + ".model" }

// InstructionsKey is the key overriding the system instructions of a type.
func InstructionsKey(workflowType string) string { return workflowType + ".instructions" }

// ProviderChecker verifies that a provider id exists with a capability.
// *provider.Registry implements it.
type ProviderChecker interface {
	Check(id string, c provider.Capability) error
}

// Service is the settings contract.
type Service struct {
	store     store.SettingsStore
	providers ProviderChecker
	logger    *slog.Logger
}

// NewService creates a settings Service.
func NewService(s store.SettingsStore, providers ProviderChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		providers: providers,
		logger:    logger.With("component", "settings"),
	}
}

// Get returns the value of key and whether it is set.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	st, err := s.store.GetSetting(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return st.Value, true, nil
}

// GetAll returns every setting.
func (s *Service) GetAll(ctx context.Context) (map[string]string, error) {
	list, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, st := range list {
		out[st.Key] = st.Value
	}
	return out, nil
}

// Update validates and stores a setting.
func (s *Service) Update(ctx context.Context, key, value string) error {
	if err := s.validate(key, value); err != nil {
		return err
	}
	if err := s.store.PutSetting(ctx, key, value); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	s.logger.Info("setting updated", "key", key)
	return nil
}

// SeedDefaults stores each default whose key is unset. Stored values win.
// Defaults are validated like updates.
func (s *Service) SeedDefaults(ctx context.Context, defaults map[string]string) error {
	for key, value := range defaults {
		if err := s.validate(key, value); err != nil {
			return err
		}
		seeded, err := s.store.SeedSetting(ctx, key, value)
		if err != nil {
			return fmt.Errorf("seeding setting %s: %w", key, err)
		}
		if seeded {
			s.logger.Info("seeded default setting", "key", key, "value", value)
		}
	}
	return nil
}

// RequiredCapability returns the capability a provider-valued key demands,
// or false when the key does not name a provider.
func RequiredCapability(key string) (provider.Capability, bool) {
	switch {
	case key == KnowledgeEmbeddingProvider:
		return provider.CapabilityEmbedding, true
	case key == KnowledgeVectorProvider:
		return provider.CapabilityVectorSearch, true
	case strings.HasSuffix(key, ".llmProvider"):
		return provider.CapabilityInference, true
	}
	return "", false
}

func (s *Service) validate(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	}
	c, ok := RequiredCapability(key)
	if !ok {
		return nil
	}
	if value == "" {
		return fmt.Errorf("%w: %s must name a provider", ErrInvalidValue, key)
	}
	if s.providers == nil {
		return nil
	}
	if err := s.providers.Check(value, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
	}
	return nil
}
