package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GenerationState is one model's state within a single generation.
type GenerationState string

const (
	StateInit          GenerationState = "init"
	StateConnected     GenerationState = "connected"
	StateStreamingText GenerationState = "streaming_text"
	StateToolResolving GenerationState = "tool_resolving"
	StateForcedAnswer  GenerationState = "forced_answer"
	StateDone          GenerationState = "done"
	StateCancelled     GenerationState = "cancelled"
	StateError         GenerationState = "error"
)

// validTransitions encodes the per-model generation state machine. Every
// state (except the terminal ones) can additionally move to Cancelled or
// Error; those edges are checked separately in Transition rather than
// repeated in every entry below.
var validTransitions = map[GenerationState]map[GenerationState]bool{
	StateInit: {
		StateConnected: true,
	},
	StateConnected: {
		StateStreamingText: true,
	},
	StateStreamingText: {
		StateToolResolving: true,
		StateForcedAnswer:  true,
		StateDone:          true,
	},
	StateToolResolving: {
		StateStreamingText: true,
		StateForcedAnswer:  true,
	},
	StateForcedAnswer: {
		StateDone: true,
	},
	StateDone:      {},
	StateCancelled: {},
	StateError:     {},
}

func isTerminal(s GenerationState) bool {
	switch s {
	case StateDone, StateCancelled, StateError:
		return true
	}
	return false
}

// Snapshot captures a point-in-time view of one model's generation state.
type Snapshot struct {
	State         GenerationState `json:"state"`
	ToolCalls     int             `json:"tool_calls"`
	Elapsed       time.Duration   `json:"elapsed"`
	Model         string          `json:"model"`
	LastTool      string          `json:"last_tool,omitempty"`
}

// StateMachine tracks one model's progress through a single generation. A
// generation creates exactly one StateMachine per model, discarded once the
// generation ends.
type StateMachine struct {
	mu        sync.RWMutex
	state     GenerationState
	toolCalls int
	startTime time.Time
	model     string
	lastTool  string
	logger    *zap.Logger

	listeners []func(from, to GenerationState, snap Snapshot)
}

func NewStateMachine(model string, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		state:     StateInit,
		startTime: time.Now(),
		model:     model,
		logger:    logger,
	}
}

func (sm *StateMachine) State() GenerationState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() Snapshot {
	return Snapshot{
		State:     sm.state,
		ToolCalls: sm.toolCalls,
		Elapsed:   time.Since(sm.startTime),
		Model:     sm.model,
		LastTool:  sm.lastTool,
	}
}

// Transition attempts to move to a new state. Cancelled and Error are always
// reachable from any non-terminal state; every other edge must be listed in
// validTransitions.
func (sm *StateMachine) Transition(to GenerationState) error {
	sm.mu.Lock()
	from := sm.state

	if isTerminal(from) {
		sm.mu.Unlock()
		return fmt.Errorf("model %s: cannot leave terminal state %s", sm.model, from)
	}

	allowed := to == StateCancelled || to == StateError || validTransitions[from][to]
	if !allowed {
		sm.mu.Unlock()
		err := fmt.Errorf("model %s: invalid transition %s -> %s", sm.model, from, to)
		sm.logger.Error("state machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to GenerationState, snap Snapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("generation state transition",
		zap.String("model", sm.model),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	for _, fn := range listeners {
		fn(from, to, snap)
	}
	return nil
}

func (sm *StateMachine) OnTransition(fn func(from, to GenerationState, snap Snapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

func (sm *StateMachine) RecordToolCall(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolCalls++
	sm.lastTool = name
}

func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return isTerminal(sm.state)
}
