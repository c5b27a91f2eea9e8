package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/internal/domain/service"
)

const sseIdleTimeout = 60 * time.Second

// parseSSEStream reads Gemini's SSE-framed streamGenerateContent response —
// each "data: " line is a complete GenerateContentResponse JSON object
// carrying the next piece of text, rather than Anthropic's typed
// content-block events — and translates it into the shared VendorChunk
// shape, forwarding each part's text as a delta. done is called once the body has been
// fully drained, to release the cancellation watchdog goroutine.
func parseSSEStream(ctx context.Context, body io.ReadCloser, logger *zap.Logger, done func()) <-chan service.VendorChunk {
	out := make(chan service.VendorChunk, 16)

	go func() {
		defer close(out)
		defer body.Close()
		defer done()

		reader := &timedReader{r: body, timeout: sseIdleTimeout}
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		toolCallIndex := 0
		var inputTokens, outputTokens int

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				out <- service.VendorChunk{Err: ctx.Err()}
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var resp Response
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				logger.Debug("skipping unparseable gemini SSE chunk", zap.Error(err))
				continue
			}
			if resp.UsageMetadata != nil {
				inputTokens = resp.UsageMetadata.PromptTokenCount
				outputTokens = resp.UsageMetadata.CandidatesTokenCount
			}
			if len(resp.Candidates) == 0 {
				continue
			}

			candidate := resp.Candidates[0]
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out <- service.VendorChunk{TextDelta: part.Text}
				}
				if part.FunctionCall != nil {
					id := fmt.Sprintf("%s:%d", part.FunctionCall.Name, toolCallIndex)
					toolCallIndex++
					out <- service.VendorChunk{ToolUse: &model.ToolUseBlock{
						ID:    id,
						Name:  part.FunctionCall.Name,
						Input: part.FunctionCall.Args,
					}}
				}
			}

			if candidate.FinishReason != "" {
				out <- service.VendorChunk{FinishReason: "stop", TokensIn: inputTokens, TokensOut: outputTokens}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if isIdleTimeoutErr(err) {
				out <- service.VendorChunk{Err: fmt.Errorf("gemini SSE stream stalled: no data for %v", sseIdleTimeout)}
				return
			}
			out <- service.VendorChunk{Err: fmt.Errorf("gemini SSE scan error: %w", err)}
			return
		}
		out <- service.VendorChunk{FinishReason: "stop", TokensIn: inputTokens, TokensOut: outputTokens}
	}()

	return out
}

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
