package utils

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OwnerKey is the gin context key holding the authenticated owner id.
const OwnerKey = "owner_id"

// AuthMiddleware verifies the bearer JWT and sets the owner in the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claims, err := VerifyToken(secret, tokenParts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set(OwnerKey, claims.OwnerID)
		c.Next()
	}
}

// OwnerID returns the owner set by AuthMiddleware.
func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
