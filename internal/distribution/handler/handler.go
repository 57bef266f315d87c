package handler

import (
	"net/http"
	"time"

	"wacrm_backend/internal/distribution/domain"
	"wacrm_backend/internal/distribution/repository"
	"wacrm_backend/internal/distribution/service"
	"wacrm_backend/internal/distribution/transport"
	"wacrm_backend/platform/httpkit"
	"wacrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidWebhookID = "invalid webhook id"
	msgInvalidUserID    = "invalid user id"
)

// Handler serves the distribution pool endpoints.
type Handler struct {
	svc *service.Service
	val *validator.Validator
	loc *time.Location
}

// New creates a pool handler. loc decides which day leads_today is reported for.
func New(svc *service.Service, val *validator.Validator, loc *time.Location) *Handler {
	return &Handler{svc: svc, val: val, loc: loc}
}

// RegisterRoutes mounts member routes on a /lead-webhooks group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/members", h.ListMembers)
	rg.POST("/:id/members", h.AddMember)
	rg.PUT("/:id/members/:userId", h.UpdateMember)
	rg.DELETE("/:id/members/:userId", h.RemoveMember)
}

func (h *Handler) ListMembers(c *gin.Context) {
	tenantID, webhookID, ok := h.scope(c)
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(c.Request.Context(), tenantID, webhookID)
	if httpkit.HandleError(c, err) {
		return
	}

	today := domain.LocalDate(time.Now(), h.loc)
	resp := make([]transport.MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, transport.ToMemberResponse(m, today))
	}
	httpkit.Items(c, resp)
}

func (h *Handler) AddMember(c *gin.Context) {
	tenantID, webhookID, ok := h.scope(c)
	if !ok {
		return
	}

	var req transport.AddMemberRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidUserID, nil)
		return
	}

	params := repository.MemberParams{IsActive: true, MaxLeadsPerDay: req.MaxLeadsPerDay}
	if req.IsActive != nil {
		params.IsActive = *req.IsActive
	}

	member, err := h.svc.AddMember(c.Request.Context(), tenantID, webhookID, userID, params)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, transport.ToMemberResponse(member, domain.LocalDate(time.Now(), h.loc)))
}

func (h *Handler) UpdateMember(c *gin.Context) {
	tenantID, webhookID, ok := h.scope(c)
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(c, "userId", msgInvalidUserID)
	if !ok {
		return
	}

	var req transport.UpdateMemberRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	member, err := h.svc.UpdateMember(c.Request.Context(), tenantID, webhookID, userID, repository.MemberParams{
		IsActive:       req.IsActive,
		MaxLeadsPerDay: req.MaxLeadsPerDay,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToMemberResponse(member, domain.LocalDate(time.Now(), h.loc)))
}

func (h *Handler) RemoveMember(c *gin.Context) {
	tenantID, webhookID, ok := h.scope(c)
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(c, "userId", msgInvalidUserID)
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.svc.RemoveMember(c.Request.Context(), tenantID, webhookID, userID)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	webhookID, ok := parseUUIDParam(c, "id", msgInvalidWebhookID)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, webhookID, true
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

func parseUUIDParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, message, nil)
		return uuid.Nil, false
	}
	return id, true
}
