// Package middleware holds the gin middleware for the proxy surface.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agproxy/internal/anthropic"
	"agproxy/internal/apierr"
)

// KeyAuth guards every proxy endpoint except /health with the single
// server key. Comparison is constant time.
type KeyAuth struct {
	key []byte
}

func NewKeyAuth(key string) *KeyAuth {
	return &KeyAuth{key: []byte(key)}
}

func (m *KeyAuth) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := extractKey(c)
		if supplied == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				anthropic.NewErrorResponse(apierr.TypeAuthentication, "missing api key"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(supplied), m.key) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				anthropic.NewErrorResponse(apierr.TypeAuthentication, "invalid api key"))
			return
		}
		c.Next()
	}
}

// extractKey pulls the client key from the places SDKs put it: the
// Authorization header (with or without the Bearer prefix), the
// x-api-key header used by Anthropic SDKs, then a key query parameter.
func extractKey(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
		return authHeader
	}

	if apiKey := c.GetHeader("x-api-key"); apiKey != "" {
		return apiKey
	}

	return c.Query("key")
}
