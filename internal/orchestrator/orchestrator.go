// Package orchestrator fans a single user prompt out to every configured
// model concurrently and multiplexes their events into one merged queue
// (spec §4.2). It owns the only cross-model synchronization in the system;
// each model's own generation is entirely the concern of its Model Adapter.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llmcompare/core/internal/domain/model"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
	"github.com/llmcompare/core/internal/session"
	"github.com/llmcompare/core/pkg/safego"
)

const (
	// heartbeatInterval matches the SSE Emitter's dual-emission cadence
	// (spec §4.4): one typed heartbeat event per model, every 10s, so a
	// client can detect a silently-stalled connection well before any
	// per-model deadline trips.
	heartbeatInterval = 10 * time.Second
	// cancelGraceMargin is how long Cancel sleeps after cancelling, giving
	// in-flight adapter goroutines time to notice and unwind.
	cancelGraceMargin = 1 * time.Second
)

// Orchestrator drives one fan-out generation across every model configured
// for a session.
type Orchestrator struct {
	providers map[string]llm.Provider // modelID -> resolved provider
	tools     domaintool.Registry
	store     *session.Store
	logger    *zap.Logger
	deadline  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // session ID -> cancel, one active generation per session
}

// New builds an Orchestrator. providers maps each configured model ID to the
// vendor Provider that serves it, resolved once at startup.
func New(providers map[string]llm.Provider, tools domaintool.Registry, store *session.Store, deadline time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		tools:     tools,
		store:     store,
		logger:    logger,
		deadline:  deadline,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Begin starts one fan-out generation across sess's configured models, each
// resuming from the history already committed by prior POST /api/query
// calls (spec §4.5: Begin never appends a turn itself). It returns a handle
// and the merged event channel; the channel closes once every model has
// reached a terminal state. Begin fails with BUSY_SESSION if the session
// already has an active generation (spec §4.3).
func (o *Orchestrator) Begin(ctx context.Context, sess *model.Session) (*model.GenerationHandle, <-chan model.Event, error) {
	if _, err := o.store.BeginGeneration(sess.ID); err != nil {
		return nil, nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	handle := &model.GenerationHandle{
		ID:        sess.ID + ":" + fmt.Sprintf("%d", time.Now().UnixNano()),
		SessionID: sess.ID,
		Models:    sess.Models,
		StartedAt: time.Now(),
	}

	o.mu.Lock()
	o.cancels[sess.ID] = cancel
	o.mu.Unlock()

	// Merge queue capacity scales with fan-out width (spec §4.2: at least
	// 4x the model count) so short bursts from one model's adapter goroutine
	// don't immediately block the others; once it is full, every producer
	// waits for the consumer.
	merged := make(chan model.Event, 4*len(sess.Models))

	g, gctx := errgroup.WithContext(genCtx)
	for _, modelID := range sess.Models {
		modelID := modelID
		g.Go(func() error {
			o.runModel(gctx, sess, modelID, merged)
			return nil
		})
	}

	hbDone := make(chan struct{})
	safego.Go(o.logger, "heartbeat", func() { o.heartbeatLoop(genCtx, sess.Models, merged, hbDone) })

	go func() {
		_ = g.Wait()
		close(hbDone)
		close(merged)

		o.mu.Lock()
		delete(o.cancels, sess.ID)
		o.mu.Unlock()

		cancel()
		o.store.EndGeneration(sess.ID)
	}()

	return handle, merged, nil
}

// runModel drives a single model's adapter stream to completion, committing
// its resulting assistant turn back to the session history and forwarding
// every Event onto merged, tagged with modelID. After ctx is done it stops
// forwarding but keeps reading, so partial text is still committed. It never
// returns an error: adapter failures
// surface as EventError on the stream itself.
func (o *Orchestrator) runModel(ctx context.Context, sess *model.Session, modelID string, merged chan<- model.Event) {
	provider, ok := o.providers[modelID]
	if !ok {
		merged <- model.Event{Type: model.EventError, ModelID: modelID, Error: fmt.Sprintf("no provider configured for model %q", modelID)}
		return
	}

	turns := o.store.HistorySnapshot(sess.ID, modelID)
	events := provider.Stream(ctx, modelID, turns, o.tools, o.deadline)

	var assistantText string
	var toolUseCount int
	for ev := range events {
		ev.ModelID = modelID
		if ev.Type == model.EventToken {
			assistantText += ev.Content
		}
		if ev.Type == model.EventToolStart {
			toolUseCount++
		}
		select {
		case merged <- ev:
		case <-ctx.Done():
			// Keep draining so the partial turn below is still committed.
		}
	}

	if assistantText != "" || toolUseCount > 0 {
		o.store.CommitTurn(sess.ID, modelID, model.Turn{
			Role:   model.RoleAssistant,
			Blocks: []model.ContentBlock{model.TextBlock{Text: assistantText}},
		})
	}
}

// heartbeatLoop emits a typed EventHeartbeat for every model on a fixed
// cadence until ctx is done. The SSE Emitter pairs this with its own
// comment-line heartbeat; this one carries model identity so clients that
// only listen for typed events still see per-model liveness.
func (o *Orchestrator) heartbeatLoop(ctx context.Context, models []string, merged chan<- model.Event, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, m := range models {
				select {
				case merged <- (model.Event{Type: model.EventHeartbeat, ModelID: m, Timestamp: time.Now().UnixMilli()}):
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// Cancel stops sessionID's in-flight generation, reporting whether one was
// found (so the HTTP handler can map this to 204 vs 404). It cancels the
// generation's context and then sleeps for a fixed cancelGraceMargin before
// returning; it does not check that every model goroutine has returned.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	time.Sleep(cancelGraceMargin)
	return true
}
