package history

import (
	"net/http"
	"strconv"

	"wacrm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the read-only history endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a history handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterScoreRoutes mounts score reads on a /lead-scores group.
func (h *Handler) RegisterScoreRoutes(rg *gin.RouterGroup) {
	rg.GET("/leaderboard", h.Leaderboard)
	rg.GET("/stats", h.Stats)
	rg.GET("/deals/:dealId/history", h.ScoreHistory)
}

// RegisterWebhookRoutes mounts the assignment log on a /lead-webhooks group.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/assignments", h.AssignmentLog)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	items, err := h.svc.Leaderboard(c.Request.Context(), tenantID, limit, c.Query("label"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Items(c, items)
}

func (h *Handler) Stats(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

func (h *Handler) ScoreHistory(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	dealID, err := uuid.Parse(c.Param("dealId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid deal id", nil)
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	items, err := h.svc.ScoreHistory(c.Request.Context(), tenantID, dealID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Items(c, items)
}

func (h *Handler) AssignmentLog(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	webhookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid webhook id", nil)
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	items, err := h.svc.AssignmentLog(c.Request.Context(), tenantID, webhookID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Items(c, items)
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "limit must be a number", nil)
		return 0, false
	}
	return limit, true
}
