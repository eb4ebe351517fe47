package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-orchestrator/internal/auth"
	"github.com/suPer8Hu/chat-orchestrator/internal/common"
)

type tokenReq struct {
	TenantID string `json:"tenant_id" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// Token exchanges a tenant API key for a JWT.
func (h *Handler) Token(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "tenant_id and api_key required")
		return
	}

	t, err := h.Tenants.Get(c.Request.Context(), req.TenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckSecret(t.APIKeyHash, req.APIKey) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
		return
	}

	ttl := h.JWTTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.SignJWT(t.ID, h.JWTSecret, ttl)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token, "expires_in": int64(ttl.Seconds())})
}
