package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/session"
)

// DebugHandler exposes process and session-store introspection, gated
// behind the same Basic auth as every other non-health route.
type DebugHandler struct {
	store  *session.Store
	logger *zap.Logger
}

func NewDebugHandler(store *session.Store, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{store: store, logger: logger.With(zap.String("handler", "debug"))}
}

// memoryResponse is the exact payload shape spec §4.5 requires for
// GET /debug/memory: a memory figure and the live session count, nothing
// more.
type memoryResponse struct {
	RSSBytes     uint64 `json:"rss_bytes"`
	SessionCount int    `json:"session_count"`
}

// Memory handles GET /debug/memory: runtime.MemStats.Sys (the bytes the Go
// runtime has obtained from the OS, not the process's measured resident set)
// reported as rss_bytes, plus the live session count, for operators
// diagnosing the 50-session cap or unexpected growth.
func (h *DebugHandler) Memory(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, memoryResponse{
		RSSBytes:     m.Sys,
		SessionCount: h.store.Stats().SessionCount,
	})
}
