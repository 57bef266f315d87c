package webhook

import (
	"net/http"
	"strings"

	"wacrm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const contextTokenKey = "webhookToken"

// TokenMiddleware reads the webhook token from the Authorization bearer header,
// falling back to the :token path parameter, and stores it on the gin context.
// The token is verified by the service so that rejected calls are still counted.
func TokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := httpkit.ExtractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			token = strings.TrimSpace(c.Param("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token"})
			return
		}

		c.Set(contextTokenKey, token)
		c.Next()
	}
}
