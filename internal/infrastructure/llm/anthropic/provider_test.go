package anthropic

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
)

const sampleStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus-20240229","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}

event: message_stop
data: {"type":"message_stop"}

`

// TestStream_SendsAnthropicBetaHeader verifies the provider's request opts
// into prompt caching through the anthropic-beta header, since the non-beta
// message params path used here carries no Betas field of its own.
func TestStream_SendsAnthropicBetaHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("anthropic-beta")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sampleStream))
	}))
	defer srv.Close()

	provider := New(llm.Config{APIKey: "test-key", BaseURL: srv.URL, Models: []string{"claude-3-opus-20240229"}}, zap.NewNop())

	turns := []model.Turn{{Role: model.RoleUser, Blocks: []model.ContentBlock{model.TextBlock{Text: "hello"}}}}
	events := provider.Stream(t.Context(), "claude-3-opus-20240229", turns, domaintool.NewInMemoryRegistry(), 5*time.Second)

	var sawDone bool
	for ev := range events {
		if ev.Type == model.EventDone {
			sawDone = true
		}
	}

	require.True(t, sawDone, "expected generation to reach done")
	assert.Equal(t, anthropicBetaHeader, gotHeader)
}
