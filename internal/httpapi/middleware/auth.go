package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-orchestrator/internal/auth"
	"github.com/suPer8Hu/chat-orchestrator/internal/common"
)

const TenantIDKey = "tenant_id"

// AuthRequired expects "Authorization: Bearer <jwt>" and stores the tenant id.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
			c.Abort()
			return
		}
		tenantID, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			c.Abort()
			return
		}
		c.Set(TenantIDKey, tenantID)
		c.Next()
	}
}

// FixedTenant is used when authentication is disabled.
func FixedTenant(tenantID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(TenantIDKey, tenantID)
		c.Next()
	}
}

func TenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}
