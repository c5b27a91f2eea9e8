// Package handlers implements the gin HTTP surface (spec §4.5): issuing a
// query, streaming its results over SSE, cancelling it, and the health and
// debug endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
	"github.com/llmcompare/core/internal/orchestrator"
	apperr "github.com/llmcompare/core/pkg/errors"
	"github.com/llmcompare/core/internal/session"
	ssepkg "github.com/llmcompare/core/internal/sse"
)

// maxMessageBytes bounds a single POST /api/query body (spec §4.5).
const maxMessageBytes = 16 * 1024

// overloadedRetryAfterSeconds matches the session reaper's cadence, so a
// client retrying after exactly this long has a real chance an idle session
// has already been reclaimed.
const overloadedRetryAfterSeconds = "30"

// QueryHandler implements POST /api/query, GET /api/stream/:session_id, and
// POST /api/cancel/:session_id.
type QueryHandler struct {
	store  *session.Store
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func NewQueryHandler(store *session.Store, orch *orchestrator.Orchestrator, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		store:  store,
		orch:   orch,
		logger: logger.With(zap.String("handler", "query")),
	}
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Message   string   `json:"message" binding:"required"`
	SessionID string   `json:"session_id,omitempty"`
	Models    []string `json:"models,omitempty"`
}

// QueryResponse tells the client which session to open the stream on.
type QueryResponse struct {
	SessionID string `json:"session_id"`
}

// Query handles POST /api/query: creates a session if none was given and
// appends message as a new user turn to every configured model's history.
// It never starts a generation itself — that happens when the client opens
// GET /api/stream/{session_id} (spec §4.5).
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.NewInvalidInputError(err.Error()).Error()})
		return
	}
	if len(req.Message) > maxMessageBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.NewInvalidInputError("message exceeds 16KB limit").Error()})
		return
	}

	sess, err := h.resolveSession(req)
	if err != nil {
		writeAppError(c, err)
		return
	}

	if _, err := h.store.AppendUserMessage(sess.ID, req.Message); err != nil {
		writeAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, QueryResponse{SessionID: sess.ID})
}

func (h *QueryHandler) resolveSession(req QueryRequest) (*model.Session, error) {
	if req.SessionID != "" {
		return h.store.Get(req.SessionID)
	}
	if len(req.Models) == 0 {
		return nil, apperr.NewInvalidInputError("models is required when starting a new session")
	}
	return h.store.Create(req.Models)
}

// Stream handles GET /api/stream/:session_id: looks up the session, begins
// its fan-out generation, and frames the merged event channel as SSE. It
// cancels the generation if the client disconnects mid-stream.
func (h *QueryHandler) Stream(c *gin.Context) {
	sessionID := c.Param("session_id")

	sess, err := h.store.Get(sessionID)
	if err != nil {
		writeAppError(c, err)
		return
	}

	_, events, err := h.orch.Begin(c.Request.Context(), sess)
	if err != nil {
		writeAppError(c, err)
		return
	}

	emitter, err := ssepkg.New(c.Writer, h.logger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ssepkg.Stream(emitter, events, c.Request.Context().Done(), func() {
		h.orch.Cancel(sessionID)
	})
}

// Cancel handles POST /api/cancel/:session_id: 204 if a generation was
// active and is now cancelled, 404 if the session had none in flight.
func (h *QueryHandler) Cancel(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !h.orch.Cancel(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active generation for session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func writeAppError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.CodeInvalidInput):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.CodeUnauthorized):
		status = http.StatusUnauthorized
	case apperr.Is(err, apperr.CodeNotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.CodeBusySession):
		status = http.StatusConflict
	case apperr.Is(err, apperr.CodeOverloaded):
		status = http.StatusServiceUnavailable
		// Spec §8 scenario 6: a 503 from capacity pressure always advertises
		// when the client should retry, since the store reaps on a fixed
		// interval rather than notifying waiters.
		c.Header("Retry-After", overloadedRetryAfterSeconds)
	case apperr.Is(err, apperr.CodeDeadline):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
