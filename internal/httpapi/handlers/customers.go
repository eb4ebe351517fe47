package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chat-orchestrator/internal/common"
)

func (h *Handler) CustomerMemory(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	mem, err := h.Memory.GetMemory(c.Request.Context(), key)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to load memory")
		return
	}
	if mem == nil {
		common.Fail(c, http.StatusNotFound, 40402, "memory not found")
		return
	}
	common.OK(c, mem)
}

func (h *Handler) CustomerSessions(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sessions, err := h.Memory.ListSessions(c.Request.Context(), key, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list sessions")
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) CustomerTurns(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	turns, err := h.Memory.ListTurns(c.Request.Context(), key)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list turns")
		return
	}
	common.OK(c, gin.H{"turns": turns})
}
