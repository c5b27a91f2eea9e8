package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
)

// Loop guardrail defaults (spec §4.1).
const (
	ConsecutiveSameToolCap = 3
	TotalToolCallCap       = 10
	DocumentCap            = 100
	RetryBackoff           = 2 * time.Second
)

// VendorChunk is one incremental unit a Stepper emits while driving a
// single model turn. A turn ends when the channel closes. RunLoop does not
// read FinishReason: whether a tool round follows is decided by whether any
// ToolUse chunks arrived during the turn.
type VendorChunk struct {
	TextDelta    string
	ToolUse      *model.ToolUseBlock
	FinishReason string // the bundled adapters always send "stop"
	TokensIn     int
	TokensOut    int
	Err          error
}

// Stepper is what a vendor adapter implements: one call to the vendor per
// ReAct step. The shared loop below owns everything else — guardrails,
// retries, tool execution, and state-machine bookkeeping — so every adapter
// gets identical behavior for those concerns.
type Stepper interface {
	Step(ctx context.Context, turns []model.Turn, tools []domaintool.Definition) (<-chan VendorChunk, error)
}

// RunLoop drives modelID's generation to completion, returning a channel of
// core Events. The channel is closed when the generation reaches a terminal
// state.
func RunLoop(
	ctx context.Context,
	modelID string,
	stepper Stepper,
	initialTurns []model.Turn,
	registry domaintool.Registry,
	deadline time.Duration,
	logger *zap.Logger,
) <-chan model.Event {
	out := make(chan model.Event, 32)

	go func() {
		defer close(out)

		ctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		genStart := time.Now()
		sm := NewStateMachine(modelID, logger)
		consecutive := NewConsecutiveToolTracker(ConsecutiveSameToolCap, logger)
		budget := NewToolCallBudget(TotalToolCallCap)
		docBudget := NewDocumentBudget(DocumentCap)

		seq := 0
		emit := func(ev model.Event) bool {
			ev.ModelID = modelID
			ev.Seq = seq
			seq++
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		fail := func(err error) {
			_ = sm.Transition(StateError)
			emit(model.Event{Type: model.EventError, Error: err.Error()})
		}

		turns := append([]model.Turn(nil), initialTurns...)
		ttft := false
		forcedAnswer := false

		for {
			if ctx.Err() != nil {
				_ = sm.Transition(StateCancelled)
				emit(model.Event{Type: model.EventError, Error: "deadline exceeded"})
				return
			}

			var toolDefs []domaintool.Definition
			if !forcedAnswer {
				toolDefs = registry.List()
			}

			// Document-block budget (spec §4.1): count document blocks across
			// the whole submitted history and trim a copy before every vendor
			// submission. The canonical turns slice above is never mutated.
			submitted := docBudget.Enforce(turns)

			chunks, err := stepWithRetry(ctx, stepper, submitted, toolDefs, ttft)
			if err != nil {
				fail(err)
				return
			}
			if sm.State() == StateInit {
				_ = sm.Transition(StateConnected)
				emit(model.Event{Type: model.EventStart, Timestamp: genStart.UnixMilli()})
			}
			if forcedAnswer {
				_ = sm.Transition(StateForcedAnswer)
			} else {
				_ = sm.Transition(StateStreamingText)
			}

			var textOut string
			var toolUses []model.ToolUseBlock
			var tokensIn, tokensOut int
			var stepErr error

			for chunk := range chunks {
				if chunk.Err != nil {
					stepErr = chunk.Err
					break
				}
				if chunk.TextDelta != "" {
					if !ttft {
						ttft = true
						emit(model.Event{Type: model.EventTTFT, TTFTMs: time.Since(genStart).Milliseconds()})
					}
					textOut += chunk.TextDelta
					emit(model.Event{Type: model.EventToken, Content: chunk.TextDelta})
				}
				if chunk.ToolUse != nil {
					toolUses = append(toolUses, *chunk.ToolUse)
				}
				tokensIn += chunk.TokensIn
				tokensOut += chunk.TokensOut
			}
			if stepErr != nil {
				fail(stepErr)
				return
			}

			assistantBlocks := make([]model.ContentBlock, 0, len(toolUses)+1)
			if textOut != "" {
				assistantBlocks = append(assistantBlocks, model.TextBlock{Text: textOut})
			}
			for _, tu := range toolUses {
				assistantBlocks = append(assistantBlocks, tu)
			}
			turns = append(turns, model.Turn{Role: model.RoleAssistant, Blocks: assistantBlocks})

			if len(toolUses) == 0 || forcedAnswer {
				if tokensIn == 0 && tokensOut == 0 {
					logger.Warn("vendor reported no token usage; emitting zero counts", zap.String("model", modelID))
				}
				_ = sm.Transition(StateDone)
				emit(model.Event{Type: model.EventDone, TotalMs: time.Since(genStart).Milliseconds(), TokensIn: tokensIn, TokensOut: tokensOut})
				return
			}

			_ = sm.Transition(StateToolResolving)

			resultBlocks := make([]model.ContentBlock, 0, len(toolUses))
			mustForce := false
			for _, tu := range toolUses {
				sm.RecordToolCall(tu.Name)
				// Tripping at run == cap (rather than run > cap) means the
				// guard fires as soon as the 3rd consecutive same-tool call
				// is recorded, so forcedAnswer is already set before the loop
				// offers tools again — the vendor never gets a chance to
				// request a 4th.
				if consecutive.Record(tu.Name) {
					mustForce = true
				}
				if budget.Increment() {
					mustForce = true
				}

				toolStart := time.Now()
				emit(model.Event{Type: model.EventToolStart, ToolName: tu.Name, Timestamp: toolStart.UnixMilli()})
				result := executeTool(ctx, registry, tu)
				emit(model.Event{Type: model.EventToolEnd, ToolName: tu.Name, DurationMs: time.Since(toolStart).Milliseconds()})

				docs := make([]model.DocumentBlock, 0, len(result.Documents))
				for _, d := range result.Documents {
					docs = append(docs, model.DocumentBlock(d))
				}
				trb := model.NewToolResultBlock(tu.ID, docs, !result.Success, model.DocumentBlock(FallbackDocument(tu.Name)))
				resultBlocks = append(resultBlocks, trb)
			}
			turns = append(turns, model.Turn{Role: model.RoleUser, Blocks: resultBlocks})

			if mustForce {
				forcedAnswer = true
				turns = append(turns, model.Turn{
					Role:   model.RoleUser,
					Blocks: []model.ContentBlock{model.TextBlock{Text: "Tool budget exhausted. Answer now using only what you already know; do not request any more tools."}},
				})
			} else {
				_ = sm.Transition(StateStreamingText)
			}
		}
	}()

	return out
}

func stepWithRetry(ctx context.Context, stepper Stepper, turns []model.Turn, toolDefs []domaintool.Definition, ttft bool) (<-chan VendorChunk, error) {
	chunks, err := stepper.Step(ctx, turns, toolDefs)
	if err == nil {
		return chunks, nil
	}
	if ttft {
		return nil, err
	}
	select {
	case <-time.After(RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return stepper.Step(ctx, turns, toolDefs)
}

func executeTool(ctx context.Context, registry domaintool.Registry, tu model.ToolUseBlock) *domaintool.Result {
	t, ok := registry.Get(tu.Name)
	if !ok {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("unknown tool %q", tu.Name)}
	}
	result, err := t.Execute(ctx, tu.Input)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}
	}
	return result
}
