// Package llm defines the Model Adapter contract (spec §4.1) and the
// factory registry adapters self-register into, keeping the Orchestrator
// decoupled from concrete vendor packages (spec §9's DI preference).
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
)

// Provider is one vendor's Model Adapter: a single Stream call, lazily
// producing Events until the model reaches a terminal state or ctx is
// cancelled. Guardrails, retries, and the per-model state machine live
// inside the Stream implementation (shared via internal/domain/service),
// not in this interface.
type Provider interface {
	// Name is the provider identifier, e.g. "anthropic", "gemini".
	Name() string
	// SupportsModel reports whether this provider serves modelID.
	SupportsModel(modelID string) bool
	// Stream drives one model's turn: it consumes history, executes any
	// tool calls against tools, and emits Events until DONE, CANCELLED, or
	// ERROR. The returned channel is closed when the stream
	// ends; deadline bounds the whole call since connection.
	Stream(ctx context.Context, modelID string, turns []model.Turn, tools domaintool.Registry, deadline time.Duration) <-chan model.Event
}

// Config configures one provider instance.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
}

// Factory builds a Provider from Config. Each vendor package registers one
// via RegisterFactory in its own init().
type Factory func(cfg Config, logger *zap.Logger) Provider

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory under typeName.
func RegisterFactory(typeName string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typeName] = factory
}

// CreateProvider builds the provider registered under typeName.
func CreateProvider(typeName string, cfg Config, logger *zap.Logger) (Provider, error) {
	mu.RLock()
	factory, ok := factories[typeName]
	mu.RUnlock()
	if !ok {
		available := make([]string, 0, len(factories))
		mu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		mu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", typeName, available)
	}
	return factory(cfg, logger), nil
}
