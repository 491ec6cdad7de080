package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ActorHeader carries the authenticated user id, set by the gateway in
// front of this service.
const ActorHeader = "X-User-ID"

const actorKey = "actorID"

// ActorMiddleware rejects requests without an actor and stores it on the
// context for handlers.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + ActorHeader + " header"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
