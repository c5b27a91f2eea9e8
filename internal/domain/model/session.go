package model

import "time"

// Role is who authored a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a per-model conversation history. Seq and
// CreatedAt exist only for truncation bookkeeping and debug introspection;
// neither crosses the wire.
type Turn struct {
	Seq       int            `json:"-"`
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"-"`
}

// ModelHistory is one model's conversation within a Session.
type ModelHistory struct {
	ModelID string
	Turns   []Turn
}

// Session is the unit of conversation state the Session Store manages: a
// set of per-model histories that all grew from the same sequence of user
// prompts, one active generation at a time.
type Session struct {
	ID           string
	Models       []string
	Histories    map[string]*ModelHistory // keyed by model ID
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// NewSession creates a Session with one empty history per requested model.
func NewSession(id string, models []string) *Session {
	histories := make(map[string]*ModelHistory, len(models))
	for _, m := range models {
		histories[m] = &ModelHistory{ModelID: m}
	}
	now := time.Now()
	return &Session{
		ID:           id,
		Models:       models,
		Histories:    histories,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

const (
	// MaxHistoryTurns is the truncation turn-count ceiling (spec §4.3): when
	// exceeded, the oldest complete turns are dropped first.
	MaxHistoryTurns = 5
	// MaxHistoryTokens is the truncation token-count ceiling, estimated via
	// the char/4 heuristic.
	MaxHistoryTokens = 8000
)

// EstimateTokens applies the char/4 heuristic used throughout truncation
// decisions to text and document content; a tool_use block counts as the
// length of its name plus 16.
func EstimateTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		for _, b := range t.Blocks {
			switch v := b.(type) {
			case TextBlock:
				total += len(v.Text) / 4
			case ToolUseBlock:
				total += len(v.Name) + 16
			case ToolResultBlock:
				for _, d := range v.Documents {
					total += len(d.Content) / 4
				}
			}
		}
	}
	return total
}

// AppendAndTruncate appends a turn to a history and drops the oldest
// complete turns until the history fits within both MaxHistoryTurns and
// MaxHistoryTokens, whichever binds first. Turns are only ever dropped whole
// — never split mid-turn.
func (h *ModelHistory) AppendAndTruncate(t Turn) {
	t.Seq = 0
	if n := len(h.Turns); n > 0 {
		t.Seq = h.Turns[n-1].Seq + 1
	}
	t.CreatedAt = time.Now()
	h.Turns = append(h.Turns, t)

	for len(h.Turns) > MaxHistoryTurns || EstimateTokens(h.Turns) > MaxHistoryTokens {
		if len(h.Turns) <= 1 {
			break
		}
		h.Turns = h.Turns[1:]
	}
}
