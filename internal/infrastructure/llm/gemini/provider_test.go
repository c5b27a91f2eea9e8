package gemini

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

const sampleGeminiStream = `data: {"candidates":[{"content":{"parts":[{"text":"hi"}],"role":"model"}}]}

data: {"candidates":[{"content":{"parts":[{"text":" there"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}

`

// TestStream_ParsesSSEAndSendsAPIKey exercises the full round trip against a
// real httptest.Server: request shape (API key query param, Accept header)
// and the incremental streamGenerateContent response framing this adapter
// hand-parses since no official Gemini Go SDK is in the dependency set.
func TestStream_ParsesSSEAndSendsAPIKey(t *testing.T) {
	var gotKey, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sampleGeminiStream))
	}))
	defer srv.Close()

	provider := New(llm.Config{APIKey: "test-key", BaseURL: srv.URL, Models: []string{"gemini-2.0-flash"}}, zap.NewNop())

	turns := []model.Turn{{Role: model.RoleUser, Blocks: []model.ContentBlock{model.TextBlock{Text: "hello"}}}}
	events := provider.Stream(t.Context(), "gemini-2.0-flash", turns, domaintool.NewInMemoryRegistry(), 5*time.Second)

	var tokens []string
	var sawDone bool
	for ev := range events {
		if ev.Type == model.EventToken {
			tokens = append(tokens, ev.Content)
		}
		if ev.Type == model.EventDone {
			sawDone = true
		}
	}

	require.True(t, sawDone, "expected generation to reach done")
	assert.Equal(t, []string{"hi", " there"}, tokens)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "text/event-stream", gotAccept)
}
