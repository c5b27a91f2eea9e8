package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"github.com/llmcompare/core/internal/infrastructure/llm"
	"github.com/llmcompare/core/internal/session"
)

// fakeProvider emits a fixed, scripted Event sequence, ignoring the prompt
// and history it's handed — enough to exercise fan-out and merge behavior
// without a real vendor.
type fakeProvider struct {
	name   string
	events []model.Event
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) SupportsModel(modelID string) bool { return true }
func (f *fakeProvider) Stream(ctx context.Context, modelID string, turns []model.Turn, tools domaintool.Registry, deadline time.Duration) <-chan model.Event {
	out := make(chan model.Event, len(f.events))
	go func() {
		defer close(out)
		for i, ev := range f.events {
			ev.Seq = i
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func doneEvents(text string) []model.Event {
	return []model.Event{
		{Type: model.EventStart},
		{Type: model.EventToken, Content: text},
		{Type: model.EventDone},
	}
}

func fakeProviders(modelIDs ...string) map[string]llm.Provider {
	out := make(map[string]llm.Provider, len(modelIDs))
	for _, id := range modelIDs {
		out[id] = &fakeProvider{name: id, events: doneEvents("hello from " + id)}
	}
	return out
}

func TestBegin_FansOutToEveryConfiguredModelAndTagsModelID(t *testing.T) {
	store := session.New(zap.NewNop())
	defer store.Close()
	tools := domaintool.NewInMemoryRegistry()

	orch := New(fakeProviders("model-a", "model-b"), tools, store, 5*time.Second, zap.NewNop())

	sess, err := store.Create([]string{"model-a", "model-b"})
	require.NoError(t, err)

	_, events, err := orch.Begin(context.Background(), sess)
	require.NoError(t, err)

	seen := map[string]int{}
	for ev := range events {
		if ev.ModelID != "" {
			seen[ev.ModelID]++
		}
	}
	assert.Equal(t, 3, seen["model-a"])
	assert.Equal(t, 3, seen["model-b"])
}

func TestBegin_PreservesPerModelEventOrdering(t *testing.T) {
	store := session.New(zap.NewNop())
	defer store.Close()
	tools := domaintool.NewInMemoryRegistry()

	orch := New(fakeProviders("model-a"), tools, store, 5*time.Second, zap.NewNop())
	sess, err := store.Create([]string{"model-a"})
	require.NoError(t, err)

	_, events, err := orch.Begin(context.Background(), sess)
	require.NoError(t, err)

	var seqs []int
	for ev := range events {
		if ev.ModelID == "model-a" {
			seqs = append(seqs, ev.Seq)
		}
	}
	require.Len(t, seqs, 3)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

// blockingProvider only emits once its release channel is closed, so a test
// can hold a generation open long enough to exercise the busy-session check
// without a race against how fast the fan-out goroutine happens to finish.
type blockingProvider struct {
	release chan struct{}
}

func (p *blockingProvider) Name() string                      { return "blocking" }
func (p *blockingProvider) SupportsModel(modelID string) bool { return true }
func (p *blockingProvider) Stream(ctx context.Context, modelID string, turns []model.Turn, tools domaintool.Registry, deadline time.Duration) <-chan model.Event {
	out := make(chan model.Event, 1)
	go func() {
		defer close(out)
		select {
		case <-p.release:
		case <-ctx.Done():
			return
		}
		out <- model.Event{Type: model.EventDone}
	}()
	return out
}

func TestBegin_RejectsWhenSessionAlreadyBusy(t *testing.T) {
	store := session.New(zap.NewNop())
	defer store.Close()
	tools := domaintool.NewInMemoryRegistry()

	blocker := &blockingProvider{release: make(chan struct{})}
	orch := New(map[string]llm.Provider{"model-a": blocker}, tools, store, 5*time.Second, zap.NewNop())
	sess, err := store.Create([]string{"model-a"})
	require.NoError(t, err)

	_, events, err := orch.Begin(context.Background(), sess)
	require.NoError(t, err)

	_, _, err = orch.Begin(context.Background(), sess)
	assert.Error(t, err)

	close(blocker.release)
	for range events {
	}
}

func TestCancel_ReportsFalseForUnknownSession(t *testing.T) {
	store := session.New(zap.NewNop())
	defer store.Close()
	orch := New(fakeProviders("model-a"), domaintool.NewInMemoryRegistry(), store, 5*time.Second, zap.NewNop())

	assert.False(t, orch.Cancel("does-not-exist"))
}
