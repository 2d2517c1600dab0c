package app

import (
	"strings"

	"swipeskills/internal/logging"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
)

// AuthHandler verifies bearer tokens issued by the identity provider
type AuthHandler struct {
	jwtSecret string
}

func NewAuthHandler(jwtSecret string) *AuthHandler {
	return &AuthHandler{jwtSecret: jwtSecret}
}

// AuthMiddleware validates the JWT and stores the caller's id on the context
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			util.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			util.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := util.ValidateToken(parts[1], h.jwtSecret)
		if err != nil {
			util.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("email", claims.Email)
		ctx := c.Request.Context()
		c.Request = c.Request.WithContext(logging.WithLogger(ctx, logging.FromContext(ctx).WithField("user_id", claims.UserID)))
		c.Next()
	}
}

// currentUser returns the authenticated user id, or "" outside AuthMiddleware
func currentUser(c *gin.Context) string {
	return c.GetString("userID")
}
