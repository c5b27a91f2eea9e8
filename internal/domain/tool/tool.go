// Package tool defines the Tool contract the orchestrator's guardrails and
// adapters operate against, independent of any vendor's wire format.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Kind classifies what a tool does, for guardrail and policy decisions.
type Kind string

const (
	KindSearch Kind = "search" // read-only retrieval (search_quran, search_hadith...)
	KindFetch  Kind = "fetch"  // network fetch of a known document
)

// Tool is the abstraction every adapter invokes identically regardless of
// vendor. A tool call always resolves to a Result; the document-block
// invariant (a tool result carries at least one document) is enforced by the
// caller, not here, since a tool can legitimately find nothing.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Document is one retrieved source backing a tool result.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Result is a tool's output, expressed as zero or more documents. The caller
// is responsible for synthesizing a fallback document when Documents is
// empty, per the tool-result invariant.
type Result struct {
	Documents []Document
	Success   bool
	Error     string
}

// Definition is the tool shape handed to a model in its request.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds every tool available to a generation.
type Registry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the process-lifetime Registry implementation; the
// process carries exactly one, built at startup and shared read-only across
// generations.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// MarshalJSON renders a Result as a JSON object with documents, success and
// error keys.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"documents": r.Documents,
		"success":   r.Success,
		"error":     r.Error,
	})
}
