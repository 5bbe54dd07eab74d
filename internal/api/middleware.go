package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxUserIDKey = "user_id"

// sessionToken reads the bearer token, falling back to the session cookie
func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// requireAuth rejects requests without an active session before any
// handler runs
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.identity.Authenticate(c.Request.Context(), sessionToken(c))
		if err != nil {
			s.logger.Debug("Unauthenticated request",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}
