package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	apperr "github.com/llmcompare/core/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := &Store{sessions: make(map[string]*entry), logger: zap.NewNop(), stopReap: make(chan struct{})}
	t.Cleanup(s.Close)
	return s
}

func TestCreate_AssignsUniqueIDAndHistories(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Create([]string{"claude-3", "gemini-pro"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Len(t, sess.Histories, 2)
}

func TestBeginGeneration_RejectsSecondConcurrentGeneration(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create([]string{"claude-3"})
	require.NoError(t, err)

	_, err = s.BeginGeneration(sess.ID)
	require.NoError(t, err)

	_, err = s.BeginGeneration(sess.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeBusySession))

	s.EndGeneration(sess.ID)
	_, err = s.BeginGeneration(sess.ID)
	assert.NoError(t, err)
}

func TestCreate_EvictsOldestIdleSessionAtCapacity(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for i := 0; i < maxSessions; i++ {
		sess, err := s.Create([]string{"claude-3"})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	// Space out LastActiveAt so eviction order is deterministic: ids[0] is oldest.
	s.mu.Lock()
	for i, id := range ids {
		s.sessions[id].session.LastActiveAt = time.Now().Add(time.Duration(i) * time.Second)
	}
	s.mu.Unlock()

	_, err := s.Create([]string{"gemini-pro"})
	require.NoError(t, err)

	_, err = s.Get(ids[0])
	assert.Error(t, err, "oldest idle session should have been evicted")
}

func TestCreate_OverloadedWhenEveryExistingSessionIsBusy(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < maxSessions; i++ {
		sess, err := s.Create([]string{"claude-3"})
		require.NoError(t, err)
		_, err = s.BeginGeneration(sess.ID)
		require.NoError(t, err)
	}

	_, err := s.Create([]string{"gemini-pro"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOverloaded))
}

func TestCommitTurn_AppendsToCorrectModelHistory(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create([]string{"claude-3", "gemini-pro"})
	require.NoError(t, err)

	turn := model.Turn{Role: model.RoleUser, Blocks: []model.ContentBlock{model.TextBlock{Text: "hello"}}}
	s.CommitTurn(sess.ID, "claude-3", turn)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Histories["claude-3"].Turns, 1)
	assert.Empty(t, got.Histories["gemini-pro"].Turns)
}

func TestReapOnce_RemovesOnlyIdleNonBusySessions(t *testing.T) {
	s := newTestStore(t)

	idle, err := s.Create([]string{"claude-3"})
	require.NoError(t, err)
	fresh, err := s.Create([]string{"claude-3"})
	require.NoError(t, err)
	busy, err := s.Create([]string{"claude-3"})
	require.NoError(t, err)
	_, err = s.BeginGeneration(busy.ID)
	require.NoError(t, err)

	s.mu.Lock()
	s.sessions[idle.ID].session.LastActiveAt = time.Now().Add(-idleTTL - time.Minute)
	s.sessions[busy.ID].session.LastActiveAt = time.Now().Add(-idleTTL - time.Minute)
	s.mu.Unlock()

	s.reapOnce()

	_, err = s.Get(idle.ID)
	assert.Error(t, err, "idle session past TTL should be reaped")
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err, "recently active session should survive")
	_, err = s.Get(busy.ID)
	assert.NoError(t, err, "busy session must never be reaped regardless of idle time")
}
