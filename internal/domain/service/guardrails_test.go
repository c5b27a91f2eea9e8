package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
)

func TestConsecutiveToolTracker_TripsOnThirdConsecutiveCall(t *testing.T) {
	tr := NewConsecutiveToolTracker(3, zap.NewNop())
	assert.False(t, tr.Record("search_quran"))
	assert.False(t, tr.Record("search_quran"))
	// The 3rd consecutive call itself trips the guard — the caller disables
	// tool offers on the next round, so a 4th call never happens.
	assert.True(t, tr.Record("search_quran"))
}

func TestConsecutiveToolTracker_ResetsOnDifferentTool(t *testing.T) {
	tr := NewConsecutiveToolTracker(3, zap.NewNop())
	assert.False(t, tr.Record("search_quran"))
	assert.False(t, tr.Record("search_quran"))
	assert.False(t, tr.Record("search_hadith"))
}

func TestToolCallBudget_ExhaustsAtMax(t *testing.T) {
	b := NewToolCallBudget(10)
	for i := 0; i < 9; i++ {
		assert.False(t, b.Increment())
	}
	assert.True(t, b.Increment())
	assert.Equal(t, int64(10), b.Count())
}

func toolResultTurn(id string, docs ...model.DocumentBlock) model.Turn {
	return model.Turn{
		Role:   model.RoleUser,
		Blocks: []model.ContentBlock{model.ToolResultBlock{ToolUseID: id, Documents: docs}},
	}
}

func TestDocumentBudget_DropsOldestAcrossHistory(t *testing.T) {
	b := NewDocumentBudget(2)
	turns := []model.Turn{
		toolResultTurn("call-1", model.DocumentBlock{ID: "1"}, model.DocumentBlock{ID: "2"}),
		toolResultTurn("call-2", model.DocumentBlock{ID: "3"}),
	}

	trimmed := b.Enforce(turns)

	total := 0
	for _, tn := range trimmed {
		for _, blk := range tn.Blocks {
			if trb, ok := blk.(model.ToolResultBlock); ok {
				total += len(trb.Documents)
			}
		}
	}
	assert.Equal(t, 2, total)
	// The oldest turn's documents are trimmed first; the newest survives whole.
	newest := trimmed[1].Blocks[0].(model.ToolResultBlock)
	assert.Equal(t, []model.DocumentBlock{{ID: "3"}}, newest.Documents)
}

func TestDocumentBudget_NoopUnderCap(t *testing.T) {
	b := NewDocumentBudget(5)
	turns := []model.Turn{toolResultTurn("call-1", model.DocumentBlock{ID: "1"})}
	assert.Equal(t, turns, b.Enforce(turns))
}

func TestDocumentBudget_NeverMutatesCanonicalHistory(t *testing.T) {
	b := NewDocumentBudget(1)
	original := []model.Turn{
		toolResultTurn("call-1", model.DocumentBlock{ID: "1"}, model.DocumentBlock{ID: "2"}),
	}
	originalDocsLen := len(original[0].Blocks[0].(model.ToolResultBlock).Documents)

	_ = b.Enforce(original)

	assert.Equal(t, originalDocsLen, len(original[0].Blocks[0].(model.ToolResultBlock).Documents))
}

func TestFallbackDocument(t *testing.T) {
	doc := FallbackDocument("search_quran")
	assert.Equal(t, "fallback", doc.Source)
	assert.Contains(t, doc.Content, "search_quran")
}
