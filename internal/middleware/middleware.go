// Package middleware holds the gin middleware shared by the API routes.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lydianiq/civicgrid/internal/platform/logger"
)

// HeaderInstitutionKey carries the institution's key id on every query.
const HeaderInstitutionKey = "X-Institution-Key"

// HeaderAdminSecret authenticates administrative calls.
const HeaderAdminSecret = "X-Admin-Secret"

// keyIDContextKey is where InstitutionKey stores the parsed key id.
const keyIDContextKey = "institution_key_id"

// RequestLogger emits one structured line per request.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// InstitutionKey requires a well-formed key header and parks the parsed id
// in the request context. Whether the key is registered is the insights
// service's question, not the middleware's.
func InstitutionKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderInstitutionKey)
		if raw == "" {
			abortWithError(c, http.StatusUnauthorized, "missing_key", "the "+HeaderInstitutionKey+" header is required")
			return
		}
		keyID, err := uuid.Parse(raw)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "invalid_key", "malformed institution key")
			return
		}
		c.Set(keyIDContextKey, keyID)
		c.Next()
	}
}

// KeyID retrieves the id parked by InstitutionKey.
func KeyID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(keyIDContextKey)
	if !ok {
		return uuid.Nil, false
	}
	keyID, ok := v.(uuid.UUID)
	return keyID, ok
}

// AdminSecret gates administrative routes behind a shared secret.
func AdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader(HeaderAdminSecret) != secret {
			abortWithError(c, http.StatusUnauthorized, "admin_unauthorized", "administrative credentials required")
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}
