package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// APIKey returns a middleware that authenticates requests against a single
// shared key. The key is read from the X-API-Key header or a Bearer token.
// An empty configured key disables authentication entirely.
func APIKey(key string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "apikey_auth").Logger()

	if key == "" {
		log.Warn().Msg("API key auth disabled, all requests accepted")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
