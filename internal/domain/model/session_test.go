package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textTurn(role Role, text string) Turn {
	return Turn{Role: role, Blocks: []ContentBlock{TextBlock{Text: text}}}
}

func TestAppendAndTruncate_DropsOldestOnTurnCountOverflow(t *testing.T) {
	h := &ModelHistory{ModelID: "claude-3"}
	for i := 0; i < MaxHistoryTurns+2; i++ {
		h.AppendAndTruncate(textTurn(RoleUser, "short"))
	}

	assert.LessOrEqual(t, len(h.Turns), MaxHistoryTurns)
	// the two oldest turns (seq 0 and 1) must have been evicted.
	for _, turn := range h.Turns {
		assert.NotEqual(t, 0, turn.Seq)
		assert.NotEqual(t, 1, turn.Seq)
	}
}

func TestAppendAndTruncate_DropsOldestOnTokenBudgetOverflow(t *testing.T) {
	h := &ModelHistory{ModelID: "claude-3"}
	big := strings.Repeat("x", MaxHistoryTokens*4) // one turn alone fills the whole budget

	h.AppendAndTruncate(textTurn(RoleUser, "small"))
	h.AppendAndTruncate(textTurn(RoleAssistant, big))

	require.Len(t, h.Turns, 1)
	assert.LessOrEqual(t, EstimateTokens(h.Turns), EstimateTokens([]Turn{textTurn(RoleAssistant, big)}))
}

func TestAppendAndTruncate_NeverDropsBelowOneTurn(t *testing.T) {
	h := &ModelHistory{ModelID: "claude-3"}
	huge := strings.Repeat("x", MaxHistoryTokens*8)

	h.AppendAndTruncate(textTurn(RoleUser, huge))

	require.Len(t, h.Turns, 1)
}

func TestEstimateTokens_CountsAllBlockKinds(t *testing.T) {
	turns := []Turn{
		{Role: RoleAssistant, Blocks: []ContentBlock{
			TextBlock{Text: "abcd"},
			ToolUseBlock{Name: "search_quran"},
			ToolResultBlock{Documents: []DocumentBlock{{Content: "abcd"}}},
		}},
	}

	assert.Greater(t, EstimateTokens(turns), 0)
}

func TestNewSession_BuildsEmptyHistoryPerModel(t *testing.T) {
	sess := NewSession("sess-1", []string{"claude-3", "gemini-pro"})

	require.Len(t, sess.Histories, 2)
	assert.Empty(t, sess.Histories["claude-3"].Turns)
	assert.Empty(t, sess.Histories["gemini-pro"].Turns)
}
