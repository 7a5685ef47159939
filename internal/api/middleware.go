package api

import (
	"cart-service/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// actorMiddleware resolves the caller. A bearer token that verifies makes
// the caller that user; anything else is a guest on the client IP.
func (h *Handler) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := auth.ClientIP(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr)

		actor := auth.Guest(ip)
		if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
			identity, err := h.authenticator.Authenticate(c.Request.Context(), token)
			if err != nil {
				h.logger.Debug("Bearer token did not verify, treating caller as guest", zap.Error(err))
			} else {
				actor = auth.Authenticated(identity.UserID, ip, identity.Role)
			}
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) auth.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(auth.Actor); ok {
			return actor
		}
	}
	return auth.Guest(auth.ClientIP("", c.Request.RemoteAddr))
}
