package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/service"
)

const sessionKey = "session"

// AuthMiddleware resolves a bearer token into the caller's session. Requests
// without a valid token continue unauthenticated; each operation decides
// whether that is enough.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.Next()
			return
		}

		session, err := authService.Authenticate(c.Request.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			if core.KindOf(err) != core.KindUnauthenticated {
				abortWithError(c, err)
				return
			}
			c.Next()
			return
		}

		c.Set(sessionKey, &session)
		c.Next()
	}
}

// callerFrom returns the session set by AuthMiddleware, nil if unauthenticated
func callerFrom(c *gin.Context) *core.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*core.Session)
	return session
}

// RequireTier rejects callers below the tier declared for a route
func RequireTier(authService *service.AuthService, tier core.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authService.Authorize(callerFrom(c), tier); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}
