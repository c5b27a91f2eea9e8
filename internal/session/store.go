// Package session implements the bounded, TTL-reaped Session Store (spec
// §4.3): the one piece of shared mutable state in the process.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperr "github.com/llmcompare/core/pkg/errors"
	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/pkg/safego"
)

const (
	maxSessions     = 50
	idleTTL         = 15 * time.Minute
	reapInterval    = 30 * time.Second
)

// entry wraps a Session with the per-session lock and busy flag the
// Orchestrator uses to enforce "at most one active generation per session".
// The registry lock below never protects an entry's fields — only the map
// itself — so a long-held session lock can never block a registry op.
type entry struct {
	mu       sync.Mutex
	session  *model.Session
	busy     bool
}

// Store is the single process-wide Session Store instance (spec §9's DI
// preference: constructed once in main and passed down, never a package
// global).
type Store struct {
	mu       sync.Mutex // protects the map only
	sessions map[string]*entry
	logger   *zap.Logger
	stopReap chan struct{}
}

func New(logger *zap.Logger) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		logger:   logger,
		stopReap: make(chan struct{}),
	}
	safego.Go(logger, "session-reaper", s.reapLoop)
	return s
}

// Close stops the background reaper. Called once, from graceful shutdown.
func (s *Store) Close() {
	close(s.stopReap)
}

// Create allocates a new session for the given models, evicting the oldest
// idle session if the store is at capacity, or returning ErrOverloaded if
// every existing session is busy.
func (s *Store) Create(models []string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= maxSessions {
		if !s.evictOldestIdleLocked() {
			return nil, apperr.NewOverloadedError("session store at capacity and every session is busy")
		}
	}

	id := uuid.NewString()
	sess := model.NewSession(id, models)
	s.sessions[id] = &entry{session: sess}
	return sess, nil
}

func (s *Store) evictOldestIdleLocked() bool {
	var oldestID string
	var oldestAt time.Time
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue // lock held, can't inspect or evict
		}
		busy := e.busy
		lastActive := e.session.LastActiveAt
		e.mu.Unlock()
		if busy {
			continue // active generation, can't evict
		}
		if oldestID == "" || lastActive.Before(oldestAt) {
			oldestID = id
			oldestAt = lastActive
		}
	}
	if oldestID == "" {
		return false
	}
	delete(s.sessions, oldestID)
	return true
}

// Get returns the session for id, or ErrNotFound.
func (s *Store) Get(id string) (*model.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.NewNotFoundError("session not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// BeginGeneration marks the session busy, enforcing at-most-one active
// generation per session (spec §4.3). Touches LastActiveAt.
func (s *Store) BeginGeneration(id string) (*model.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.NewNotFoundError("session not found")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, apperr.NewBusySessionError("session already has an active generation")
	}
	e.busy = true
	e.session.LastActiveAt = time.Now()
	return e.session, nil
}

// EndGeneration clears the busy flag. Idempotent.
func (s *Store) EndGeneration(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.busy = false
	e.session.LastActiveAt = time.Now()
	e.mu.Unlock()
}

// AppendUserMessage appends message as a new user turn to every configured
// model's history in sessionID, applying truncation per model (spec §4.5:
// POST /api/query only grows history, it never starts a generation). Fails
// with BusySession if a generation is already active, matching the Begin
// path's own busy check.
func (s *Store) AppendUserMessage(sessionID, message string) (*model.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.NewNotFoundError("session not found")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, apperr.NewBusySessionError("session already has an active generation")
	}

	turn := model.Turn{Role: model.RoleUser, Blocks: []model.ContentBlock{model.TextBlock{Text: message}}}
	for _, modelID := range e.session.Models {
		h := e.session.Histories[modelID]
		if h == nil {
			h = &model.ModelHistory{ModelID: modelID}
			e.session.Histories[modelID] = h
		}
		h.AppendAndTruncate(turn)
	}
	e.session.LastActiveAt = time.Now()
	return e.session, nil
}

// HistorySnapshot returns a defensive copy of modelID's turns within
// sessionID, taken under the per-session lock so a concurrent
// AppendUserMessage or CommitTurn never races with an adapter reading history to submit to its vendor.
func (s *Store) HistorySnapshot(sessionID, modelID string) []model.Turn {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.session.Histories[modelID]
	if h == nil {
		return nil
	}
	out := make([]model.Turn, len(h.Turns))
	copy(out, h.Turns)
	return out
}

// CommitTurn appends a completed (possibly partial, on cancellation) turn to
// modelID's history within the session, applying truncation.
func (s *Store) CommitTurn(sessionID, modelID string, turn model.Turn) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.session.Histories[modelID]
	if h == nil {
		h = &model.ModelHistory{ModelID: modelID}
		e.session.Histories[modelID] = h
	}
	h.AppendAndTruncate(turn)
}

// Stats is a snapshot for the /debug/memory endpoint. The registry lock is
// held only long enough to copy out the entry pointers; each entry's own
// fields are then read under its per-session lock, never the registry lock,
// since LastActiveAt and Models are mutated under that lock elsewhere.
type Stats struct {
	SessionCount int           `json:"session_count"`
	Sessions     []SessionStat `json:"sessions"`
}

type SessionStat struct {
	ID      string        `json:"id"`
	IdleFor time.Duration `json:"idle_for"`
	Models  []string      `json:"models"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	stat := Stats{SessionCount: len(entries)}
	s.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		e.mu.Lock()
		stat.Sessions = append(stat.Sessions, SessionStat{
			ID:      e.session.ID,
			IdleFor: now.Sub(e.session.LastActiveAt),
			Models:  e.session.Models,
		})
		e.mu.Unlock()
	}
	return stat
}

func (s *Store) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapOnce()
		case <-s.stopReap:
			return
		}
	}
}

func (s *Store) reapOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		idle := now.Sub(e.session.LastActiveAt)
		busy := e.busy
		e.mu.Unlock()
		if !busy && idle > idleTTL {
			delete(s.sessions, id)
			s.logger.Debug("reaped idle session", zap.String("session_id", id), zap.Duration("idle", idle))
		}
	}
}
