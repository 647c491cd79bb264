package mw

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequireAPIKey gates a route on the shared X-API-Key header.
//
// Device registration, heartbeats and result submission are served
// without it: devices authenticate implicitly by possessing a valid
// device id. That exemption is kept for wire compatibility with
// deployed Pi clients, not because it is a good idea.
func RequireAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")

		if key == "" {
			log.Warn("API request missing API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "message": "API key is missing"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			log.Warn("API request with invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed", "message": "Invalid API key"})
			return
		}

		c.Next()
	}
}
