package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStateMachine_HappyPath(t *testing.T) {
	sm := NewStateMachine("claude-sonnet-4-5-20250929", zap.NewNop())

	require.NoError(t, sm.Transition(StateConnected))
	require.NoError(t, sm.Transition(StateStreamingText))
	require.NoError(t, sm.Transition(StateToolResolving))
	require.NoError(t, sm.Transition(StateStreamingText))
	require.NoError(t, sm.Transition(StateDone))

	assert.True(t, sm.IsTerminal())
	assert.Equal(t, StateDone, sm.State())
}

func TestStateMachine_ForcedAnswerBranch(t *testing.T) {
	sm := NewStateMachine("gemini-2.5-pro", zap.NewNop())
	require.NoError(t, sm.Transition(StateConnected))
	require.NoError(t, sm.Transition(StateStreamingText))
	require.NoError(t, sm.Transition(StateToolResolving))
	require.NoError(t, sm.Transition(StateForcedAnswer))
	require.NoError(t, sm.Transition(StateDone))
}

func TestStateMachine_RejectsInvalidTransition(t *testing.T) {
	sm := NewStateMachine("claude-sonnet-4-5-20250929", zap.NewNop())
	err := sm.Transition(StateDone)
	assert.Error(t, err)
	assert.Equal(t, StateInit, sm.State())
}

func TestStateMachine_CancelledReachableFromAnyNonTerminalState(t *testing.T) {
	for _, start := range []GenerationState{StateInit, StateConnected, StateStreamingText, StateToolResolving} {
		sm := NewStateMachine("m", zap.NewNop())
		sm.state = start
		require.NoError(t, sm.Transition(StateCancelled))
		assert.True(t, sm.IsTerminal())
	}
}

func TestStateMachine_NoTransitionsOutOfTerminalStates(t *testing.T) {
	sm := NewStateMachine("m", zap.NewNop())
	require.NoError(t, sm.Transition(StateCancelled))
	assert.Error(t, sm.Transition(StateConnected))
}

func TestStateMachine_ListenersNotifiedOnTransition(t *testing.T) {
	sm := NewStateMachine("m", zap.NewNop())
	var got []GenerationState
	sm.OnTransition(func(from, to GenerationState, snap Snapshot) {
		got = append(got, to)
	})
	require.NoError(t, sm.Transition(StateConnected))
	require.NoError(t, sm.Transition(StateStreamingText))
	assert.Equal(t, []GenerationState{StateConnected, StateStreamingText}, got)
}
