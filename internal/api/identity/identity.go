// Package identity extracts the verified owner id installed by the
// authentication collaborator. The core trusts this identity and does not
// re-verify tokens.
package identity

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Header carries the verified owner id.
const Header = "X-User-ID"

const contextKey = "user_id"

// Middleware rejects requests without a verified owner id and stashes the
// id in the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(Header)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing user identity",
			})
			return
		}
		c.Set(contextKey, userID)
		c.Next()
	}
}

// UserID returns the verified owner id for the request.
func UserID(c *gin.Context) string {
	return c.GetString(contextKey)
}
