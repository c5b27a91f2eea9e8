// Package anthropic adapts Anthropic's Claude models to the Model Adapter
// contract, built on the official anthropic-sdk-go client rather than a
// hand-rolled HTTP+SSE parser.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/internal/domain/service"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
)

const defaultMaxTokens = 4096

// anthropicBetaHeader opts into prompt caching on the non-beta message
// params path used below, which has no Betas field of its own (that only
// exists on BetaMessageNewParams / client.Beta.Messages).
const anthropicBetaHeader = "prompt-caching-2024-07-31"

func init() {
	llm.RegisterFactory("anthropic", New)
}

// Provider is the Claude Model Adapter.
type Provider struct {
	client anthropic.Client
	models map[string]bool
	logger *zap.Logger
}

// New builds a Claude provider from the given config. Registered as the
// "anthropic" factory so the orchestrator never imports this package
// directly (spec §9's DI preference).
func New(cfg llm.Config, logger *zap.Logger) llm.Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("anthropic-beta", anthropicBetaHeader),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	models := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m] = true
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		models: models,
		logger: logger,
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) SupportsModel(modelID string) bool {
	if len(p.models) == 0 {
		return strings.HasPrefix(modelID, "claude-")
	}
	return p.models[modelID]
}

// Stream implements llm.Provider by delegating to the shared ReAct loop
// (internal/domain/service.RunLoop), handing it a Stepper scoped to modelID.
func (p *Provider) Stream(ctx context.Context, modelID string, turns []model.Turn, tools domaintool.Registry, deadline time.Duration) <-chan model.Event {
	stepper := &stepper{client: p.client, model: modelID, logger: p.logger}
	return service.RunLoop(ctx, modelID, stepper, turns, tools, deadline, p.logger)
}

type stepper struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

func (s *stepper) Step(ctx context.Context, turns []model.Turn, toolDefs []domaintool.Definition) (<-chan service.VendorChunk, error) {
	messages, err := convertTurns(turns)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert turns: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}
	if len(toolDefs) > 0 {
		params.Tools = convertTools(toolDefs)
	}
	// Prompt-caching passthrough (spec §9): mark the last message for the
	// ephemeral cache so repeated turns in the same generation reuse the
	// vendor-side prefix cache without this adapter doing anything else.
	if len(params.Messages) > 0 {
		markCacheable(&params.Messages[len(params.Messages)-1])
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	out := make(chan service.VendorChunk, 16)

	go func() {
		defer close(out)
		var currentToolID, currentToolName string
		var currentToolInput strings.Builder
		var inputTokens, outputTokens int

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				if ms.Message.Usage.InputTokens > 0 {
					inputTokens = int(ms.Message.Usage.InputTokens)
				}
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					tu := block.AsToolUse()
					currentToolID = tu.ID
					currentToolName = tu.Name
					currentToolInput.Reset()
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- service.VendorChunk{TextDelta: delta.Text}
					}
				case "input_json_delta":
					currentToolInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if currentToolID != "" {
					var args map[string]interface{}
					_ = json.Unmarshal([]byte(currentToolInput.String()), &args)
					out <- service.VendorChunk{ToolUse: &model.ToolUseBlock{
						ID:    currentToolID,
						Name:  currentToolName,
						Input: args,
					}}
					currentToolID = ""
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = int(md.Usage.OutputTokens)
				}
			case "message_stop":
				out <- service.VendorChunk{FinishReason: "stop", TokensIn: inputTokens, TokensOut: outputTokens}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- service.VendorChunk{Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()

	return out, nil
}

func markCacheable(msg *anthropic.MessageParam) {
	if len(msg.Content) == 0 {
		return
	}
	last := &msg.Content[len(msg.Content)-1]
	if last.OfText != nil {
		last.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
}

func convertTurns(turns []model.Turn) ([]anthropic.MessageParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range t.Blocks {
			switch v := b.(type) {
			case model.TextBlock:
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case model.ToolUseBlock:
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, v.Input, v.Name))
			case model.ToolResultBlock:
				var parts []string
				for _, d := range v.Documents {
					parts = append(parts, fmt.Sprintf("[%s] %s\n%s", d.Source, d.Title, d.Content))
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, strings.Join(parts, "\n\n"), v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch t.Role {
		case model.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return messages, nil
}

func convertTools(defs []domaintool.Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: d.Parameters["properties"],
			Required:   toStringSlice(d.Parameters["required"]),
		}, d.Name))
		out[len(out)-1].OfTool.Description = anthropic.String(d.Description)
	}
	return out
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]string)
	if ok {
		return arr
	}
	ifaces, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		if s, ok := i.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
