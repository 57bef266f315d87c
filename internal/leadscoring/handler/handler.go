package handler

import (
	"context"
	"net/http"
	"time"

	"wacrm_backend/internal/leadscoring/service"
	"wacrm_backend/internal/leadscoring/transport"
	"wacrm_backend/platform/httpkit"
	"wacrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidDealID    = "invalid deal id"

	// bulkTimeout bounds a synchronous recalculate-all request.
	bulkTimeout = 5 * time.Minute
)

// Handler serves the lead scoring endpoints.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a lead scoring handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts the handler on a /lead-scores group. Tenant-wide
// writes need the admin role.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	adminOnly := httpkit.RequireRole("admin")

	rg.GET("/config", h.GetConfig)
	rg.PUT("/config", adminOnly, h.UpdateConfig)
	rg.GET("/deals/:dealId", h.GetScore)
	rg.POST("/deals/:dealId/recalculate", h.Recalculate)
	rg.POST("/recalculate-all", adminOnly, h.RecalculateAll)
	rg.POST("/recalculate-stale", adminOnly, h.RecalculateStale)
	rg.POST("/events/message", h.MessageReceived)
	rg.POST("/events/stage-change", h.StageChanged)
}

func (h *Handler) GetConfig(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	cfg, err := h.svc.GetConfig(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, cfg)
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.UpdateConfigRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	current, err := h.svc.GetConfig(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	saved, err := h.svc.UpdateConfig(c.Request.Context(), tenantID, req.Apply(current))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, saved)
}

func (h *Handler) GetScore(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	dealID, ok := parseDealID(c)
	if !ok {
		return
	}

	score, err := h.svc.GetScore(c.Request.Context(), tenantID, dealID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadScoreResponse(score))
}

func (h *Handler) Recalculate(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	dealID, ok := parseDealID(c)
	if !ok {
		return
	}
	actor := httpkit.GetIdentity(c).UserID().String()

	score, err := h.svc.Recalculate(c.Request.Context(), tenantID, dealID, service.TriggerManual, actor)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadScoreResponse(score))
}

func (h *Handler) RecalculateAll(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	actor := httpkit.GetIdentity(c).UserID().String()

	ctx, cancel := context.WithTimeout(c.Request.Context(), bulkTimeout)
	defer cancel()

	result, err := h.svc.RecalculateAll(ctx, tenantID, actor)
	if err != nil && !result.Canceled {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) RecalculateStale(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), bulkTimeout)
	defer cancel()

	result, err := h.svc.RecalculateStale(ctx, tenantID)
	if err != nil && !result.Canceled {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) MessageReceived(c *gin.Context) {
	h.handleDealEvent(c, h.svc.OnMessageReceived)
}

func (h *Handler) StageChanged(c *gin.Context) {
	h.handleDealEvent(c, h.svc.OnStageChanged)
}

func (h *Handler) handleDealEvent(c *gin.Context, trigger func(ctx context.Context, tenantID, dealID uuid.UUID) (service.TriggerOutcome, error)) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.DealEventRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	dealID, err := uuid.Parse(req.DealID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDealID, nil)
		return
	}

	outcome, err := trigger(c.Request.Context(), tenantID, dealID)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.TriggerResponse{Status: string(outcome.Status)}
	if outcome.Score != nil {
		score := transport.ToLeadScoreResponse(*outcome.Score)
		resp.Score = &score
	}

	status := http.StatusOK
	if outcome.Status == service.TriggerQueued {
		status = http.StatusAccepted
	}
	httpkit.JSON(c, status, resp)
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func parseDealID(c *gin.Context) (uuid.UUID, bool) {
	dealID, err := uuid.Parse(c.Param("dealId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDealID, nil)
		return uuid.Nil, false
	}
	return dealID, true
}
