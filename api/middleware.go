package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	actorKey = "actor"
	adminKey = "admin"

	// adminPrefix on a configured actor identity grants the admin role;
	// the prefix is stripped before the identity is used.
	adminPrefix = "admin:"
)

// authMiddleware resolves a bearer token to an actor identity. Every
// mutating route runs behind it; the resolved actor is stamped into audit
// logs and distribution records.
func authMiddleware(tokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse{Code: "UNAUTHORIZED", Message: "missing bearer token"})
			return
		}

		actor, ok := tokens[token]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse{Code: "UNAUTHORIZED", Message: "unknown bearer token"})
			return
		}

		admin := false
		if name, found := strings.CutPrefix(actor, adminPrefix); found {
			actor, admin = name, true
		}
		c.Set(actorKey, actor)
		c.Set(adminKey, admin)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (string, bool) {
	return c.GetString(actorKey), c.GetBool(adminKey)
}
