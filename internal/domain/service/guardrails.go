package service

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/internal/domain/tool"
)

// Guardrail sentinel errors.
var (
	ErrConsecutiveToolCap = fmt.Errorf("same tool called too many times in a row")
	ErrTotalToolCallCap   = fmt.Errorf("total tool call budget exhausted")
)

// ConsecutiveToolTracker caps how many times in a row a model may invoke the
// same tool name before the adapter must force an answer. A generation's
// guardrails are per-model, per-generation state, never shared.
type ConsecutiveToolTracker struct {
	cap      int
	lastName string
	run      int
	logger   *zap.Logger
}

func NewConsecutiveToolTracker(cap int, logger *zap.Logger) *ConsecutiveToolTracker {
	return &ConsecutiveToolTracker{cap: cap, logger: logger}
}

// Record registers one tool invocation and reports whether the run of
// consecutive calls to the same tool has now reached the cap.
func (t *ConsecutiveToolTracker) Record(toolName string) bool {
	if toolName == t.lastName {
		t.run++
	} else {
		t.lastName = toolName
		t.run = 1
	}
	// Trips the instant run reaches cap, i.e. on the 3rd consecutive call
	// itself — not on a would-be 4th. The caller uses the true return to
	// disable tool offers on the *next* round, so the vendor never gets the
	// chance to request that 4th call at all.
	if t.run >= t.cap {
		t.logger.Warn("consecutive same-tool cap exceeded",
			zap.String("tool", toolName),
			zap.Int("run", t.run),
			zap.Int("cap", t.cap),
		)
		return true
	}
	return false
}

// ToolCallBudget caps the total number of tool calls in a single generation.
// Thread-safe so it can be read from the event-emission path concurrently
// with being written from the tool-execution path.
type ToolCallBudget struct {
	max   int64
	count atomic.Int64
}

func NewToolCallBudget(max int) *ToolCallBudget {
	return &ToolCallBudget{max: int64(max)}
}

// Increment records one more tool call and reports whether the budget is now
// exhausted (the caller must then force an answer instead of issuing another
// tool call).
func (b *ToolCallBudget) Increment() (exhausted bool) {
	n := b.count.Add(1)
	return n >= b.max
}

func (b *ToolCallBudget) Count() int64 {
	return b.count.Load()
}

// DocumentBudget caps how many document blocks a submitted history may
// carry in total, counted across every tool_result block in every turn
// (spec §4.1). When the cap is exceeded, the oldest documents — oldest turn
// first, oldest document within a turn first — are dropped from a copy;
// the canonical history the caller holds is never mutated.
type DocumentBudget struct {
	max int
}

func NewDocumentBudget(max int) *DocumentBudget {
	return &DocumentBudget{max: max}
}

// Enforce returns turns, or a trimmed copy if the total document-block count
// across all tool_result blocks exceeds the budget.
func (b *DocumentBudget) Enforce(turns []model.Turn) []model.Turn {
	total := 0
	for _, t := range turns {
		for _, blk := range t.Blocks {
			if trb, ok := blk.(model.ToolResultBlock); ok {
				total += len(trb.Documents)
			}
		}
	}
	if total <= b.max {
		return turns
	}

	toDrop := total - b.max
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	for i := range out {
		if toDrop <= 0 {
			break
		}
		blocks := make([]model.ContentBlock, len(out[i].Blocks))
		copy(blocks, out[i].Blocks)
		for j, blk := range blocks {
			trb, ok := blk.(model.ToolResultBlock)
			if !ok || toDrop <= 0 || len(trb.Documents) == 0 {
				continue
			}
			drop := toDrop
			if drop > len(trb.Documents) {
				drop = len(trb.Documents)
			}
			docs := make([]model.DocumentBlock, len(trb.Documents)-drop)
			copy(docs, trb.Documents[drop:])
			trb.Documents = docs
			blocks[j] = trb
			toDrop -= drop
		}
		out[i].Blocks = blocks
	}
	return out
}

// FallbackDocument synthesizes the document a tool result must carry when a
// tool legitimately found nothing, satisfying the tool-result invariant.
func FallbackDocument(toolName string) tool.Document {
	return tool.Document{
		ID:      "fallback",
		Title:   "No content found",
		Content: fmt.Sprintf("%s returned no matching content.", toolName),
		Source:  "fallback",
	}
}
