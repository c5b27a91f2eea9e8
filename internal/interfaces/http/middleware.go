package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmcompare/core/internal/config"
)

// basicAuth gates every route except /health behind HTTP Basic auth,
// constant-time comparing credentials so response timing can't leak how
// many characters matched. It is a no-op middleware when AUTH_PASSWORD is
// unset (spec §4.5), matching the optional-auth stance of the env table.
func basicAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnabled() {
			c.Next()
			return
		}
		user, pass, ok := c.Request.BasicAuth()
		if !ok || !constantTimeEqual(user, cfg.AuthUsername) || !constantTimeEqual(pass, cfg.AuthPassword) {
			c.Header("WWW-Authenticate", `Basic realm="llmcompare"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
