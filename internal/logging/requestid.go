package logging

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

const ginRequestIDKey = "__request_id__"

// GenerateRequestID returns a short random hex identifier used to correlate
// one proxied request across the gin access log, the structured log fields,
// and the per-request log file.
func GenerateRequestID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

// SetGinRequestID attaches the identifier to the gin context so the proxy
// handlers further down the chain can pick it up.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c != nil {
		c.Set(ginRequestIDKey, requestID)
	}
}

// GetGinRequestID returns the identifier stored by SetGinRequestID, or an
// empty string when the middleware did not assign one for this path.
func GetGinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if id, exists := c.Get(ginRequestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
