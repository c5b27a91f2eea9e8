// Package gemini adapts Google's Gemini models to the Model Adapter
// contract. No official Go SDK for the Gemini API exists in this project's
// dependency set, so this adapter speaks generativelanguage.googleapis.com
// directly over net/http, the way the rest of this codebase talks to
// vendor APIs that have no blessed client library.
package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/internal/domain/service"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("gemini", New)
}

// Provider implements the Google Gemini API natively.
type Provider struct {
	baseURL string
	apiKey  string
	models  map[string]bool
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Gemini Model Adapter.
func New(cfg llm.Config, logger *zap.Logger) llm.Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	models := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m] = true
	}

	return &Provider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", "gemini")),
	}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) SupportsModel(modelID string) bool {
	if len(p.models) == 0 {
		return strings.HasPrefix(modelID, "gemini-")
	}
	return p.models[modelID]
}

func (p *Provider) Stream(ctx context.Context, modelID string, turns []model.Turn, tools domaintool.Registry, deadline time.Duration) <-chan model.Event {
	stepper := &stepper{provider: p, model: modelID}
	return service.RunLoop(ctx, modelID, stepper, turns, tools, deadline, p.logger)
}

type stepper struct {
	provider *Provider
	model    string
}

func (s *stepper) Step(ctx context.Context, turns []model.Turn, toolDefs []domaintool.Definition) (<-chan service.VendorChunk, error) {
	apiReq := buildAPIRequest(turns, toolDefs)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", s.provider.baseURL, s.model, s.provider.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.provider.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("gemini: API error %d", resp.StatusCode)
	}

	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.provider.logger.Info("context cancelled, closing gemini SSE stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-watchdogDone:
		}
	}()

	out := parseSSEStream(ctx, resp.Body, s.provider.logger, func() { close(watchdogDone) })
	return out, nil
}

func buildAPIRequest(turns []model.Turn, toolDefs []domaintool.Definition) *Request {
	apiReq := &Request{GenerationConfig: &GenerationConfig{MaxOutputTokens: 4096}}

	for _, t := range turns {
		content := Content{Role: geminiRole(t.Role)}
		for _, b := range t.Blocks {
			switch v := b.(type) {
			case model.TextBlock:
				content.Parts = append(content.Parts, Part{Text: v.Text})
			case model.ToolUseBlock:
				content.Parts = append(content.Parts, Part{FunctionCall: &FunctionCall{Name: v.Name, Args: v.Input}})
			case model.ToolResultBlock:
				var parts []string
				for _, d := range v.Documents {
					parts = append(parts, fmt.Sprintf("[%s] %s\n%s", d.Source, d.Title, d.Content))
				}
				content.Parts = append(content.Parts, Part{FunctionResponse: &FunctionResponse{
					Name:     toolNameFromResultID(v.ToolUseID),
					Response: map[string]interface{}{"output": strings.Join(parts, "\n\n")},
				}})
			}
		}
		if len(content.Parts) > 0 {
			apiReq.Contents = append(apiReq.Contents, content)
		}
	}

	if len(toolDefs) > 0 {
		decls := make([]FunctionDeclarationSpec, 0, len(toolDefs))
		for _, td := range toolDefs {
			decls = append(decls, FunctionDeclarationSpec{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			})
		}
		apiReq.Tools = []ToolDeclaration{{FunctionDeclarations: decls}}
	}

	return apiReq
}

func geminiRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "model"
	}
	return "user"
}

// toolNameFromResultID recovers the tool name carried in the synthetic
// "name:index" ToolUseID that parseSSEStream assigns, since Gemini's
// functionResponse keys results by name rather than by call ID.
func toolNameFromResultID(toolUseID string) string {
	if idx := strings.LastIndex(toolUseID, ":"); idx >= 0 {
		return toolUseID[:idx]
	}
	return toolUseID
}
