package middleware

import (
	"net/http"
	"strings"

	service "github.com/sahilkadam/complianceos/service"

	"github.com/gin-gonic/gin"
)

// ActorKey is the gin context key the resolved actor is stored under.
const ActorKey = "actor"

// Identity resolves the caller's API token (X-Api-Token header, or a
// Bearer token) to an actor and rejects requests without one. Every
// route behind this middleware can rely on an actor being present.
func Identity(provider service.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Api-Token")
		if token == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}

		actor, err := provider.Resolve(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "A valid API token is required.",
			})
			c.Abort()
			return
		}

		c.Set(ActorKey, actor)
		c.Next()
	}
}
