package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wacrm_backend/platform/httpkit"
	"wacrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest   = "invalid request body"
	errValidation       = "validation error"
	errInvalidWebhookID = "invalid webhook ID"

	// maxBodyBytes bounds an inbound payload before it is parsed.
	maxBodyBytes = 1 << 20
)

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// ---- Lead ingestion (public, token authenticated) ----

// HandleIngestLead turns an inbound submission into a deal.
// POST /api/v1/webhook/leads and POST /api/v1/webhook/leads/:token
// Accepts JSON objects with scalar values and url-encoded or multipart forms.
func (h *Handler) HandleIngestLead(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	payload, err := parsePayload(c)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	result, err := h.service.IngestLead(c.Request.Context(), c.GetString(contextTokenKey), payload)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, result)
}

func parsePayload(c *gin.Context) (map[string]string, error) {
	switch c.ContentType() {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return collectFormFields(c)
	default:
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, err
		}
		return coercePayload(body)
	}
}

func collectFormFields(c *gin.Context) (map[string]string, error) {
	if err := c.Request.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	fields := make(map[string]string)
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields, nil
}

// coercePayload flattens a decoded JSON object into string values. Nested objects
// and arrays are rejected; null values are dropped.
func coercePayload(body map[string]any) (map[string]string, error) {
	fields := make(map[string]string, len(body))
	for key, val := range body {
		switch v := val.(type) {
		case nil:
		case string:
			fields[key] = v
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("field %q must be a string, number or boolean", key)
		}
	}
	return fields, nil
}

// ---- Webhook management (JWT authenticated) ----

// WebhookRequest is the request body for creating or updating a webhook.
type WebhookRequest struct {
	Name                string            `json:"name" validate:"required,min=1,max=100"`
	FunnelID            *uuid.UUID        `json:"funnelId"`
	StageID             *uuid.UUID        `json:"stageId"`
	DefaultDealValue    float64           `json:"defaultDealValue" validate:"gte=0"`
	DefaultProbability  int               `json:"defaultProbability" validate:"gte=0,lte=100"`
	DistributionEnabled bool              `json:"distributionEnabled"`
	FieldMapping        map[string]string `json:"fieldMapping" validate:"max=100,dive,keys,min=1,max=100,endkeys,oneof=name phone email company notes"`
	IsActive            *bool             `json:"isActive"`
}

func (r WebhookRequest) params() WebhookParams {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return WebhookParams{
		Name:                r.Name,
		FunnelID:            r.FunnelID,
		StageID:             r.StageID,
		DefaultDealValue:    r.DefaultDealValue,
		DefaultProbability:  r.DefaultProbability,
		DistributionEnabled: r.DistributionEnabled,
		FieldMapping:        r.FieldMapping,
		IsActive:            active,
	}
}

// WebhookResponse is returned when listing or reading webhooks.
type WebhookResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Name                string            `json:"name"`
	TokenPrefix         string            `json:"tokenPrefix"`
	FunnelID            *uuid.UUID        `json:"funnelId"`
	StageID             *uuid.UUID        `json:"stageId"`
	DefaultDealValue    float64           `json:"defaultDealValue"`
	DefaultProbability  int               `json:"defaultProbability"`
	DistributionEnabled bool              `json:"distributionEnabled"`
	FieldMapping        map[string]string `json:"fieldMapping"`
	IsActive            bool              `json:"isActive"`
	CreatedAt           string            `json:"createdAt"`
	UpdatedAt           string            `json:"updatedAt"`
}

// TokenResponse includes the plaintext token (shown only once).
type TokenResponse struct {
	WebhookResponse
	Token string `json:"token"`
}

// HandleCreateWebhook creates a new lead webhook.
// POST /api/v1/lead-webhooks
func (h *Handler) HandleCreateWebhook(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	var req WebhookRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	hook, token, err := h.service.CreateWebhook(c.Request.Context(), tenantID, req.params())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, TokenResponse{WebhookResponse: toWebhookResponse(hook), Token: token})
}

// HandleListWebhooks lists the webhooks of the organization.
// GET /api/v1/lead-webhooks
func (h *Handler) HandleListWebhooks(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	hooks, err := h.service.ListWebhooks(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]WebhookResponse, len(hooks))
	for i, hook := range hooks {
		result[i] = toWebhookResponse(hook)
	}
	httpkit.OK(c, result)
}

// HandleGetWebhook returns one webhook.
// GET /api/v1/lead-webhooks/:id
func (h *Handler) HandleGetWebhook(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}

	hook, err := h.service.GetWebhook(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toWebhookResponse(hook))
}

// HandleUpdateWebhook replaces the settings of a webhook.
// PUT /api/v1/lead-webhooks/:id
func (h *Handler) HandleUpdateWebhook(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req WebhookRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	hook, err := h.service.UpdateWebhook(c.Request.Context(), tenantID, id, req.params())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toWebhookResponse(hook))
}

// HandleDeleteWebhook removes a webhook.
// DELETE /api/v1/lead-webhooks/:id
func (h *Handler) HandleDeleteWebhook(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.service.DeleteWebhook(c.Request.Context(), tenantID, id)) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "webhook deleted"})
}

// HandleRotateToken issues a new token; the old one stops working.
// POST /api/v1/lead-webhooks/:id/rotate-token
func (h *Handler) HandleRotateToken(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}

	hook, token, err := h.service.RotateToken(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, TokenResponse{WebhookResponse: toWebhookResponse(hook), Token: token})
}

// HandleListLogs returns recent inbound calls for debugging.
// GET /api/v1/lead-webhooks/:id/logs?limit=
func (h *Handler) HandleListLogs(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "limit must be a number", nil)
		return
	}

	logs, err := h.service.ListLogs(c.Request.Context(), tenantID, id, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Items(c, logs)
}

func toWebhookResponse(hook LeadWebhook) WebhookResponse {
	return WebhookResponse{
		ID:                  hook.ID,
		Name:                hook.Name,
		TokenPrefix:         hook.TokenPrefix,
		FunnelID:            hook.FunnelID,
		StageID:             hook.StageID,
		DefaultDealValue:    hook.DefaultDealValue,
		DefaultProbability:  hook.DefaultProbability,
		DistributionEnabled: hook.DistributionEnabled,
		FieldMapping:        hook.FieldMapping,
		IsActive:            hook.IsActive,
		CreatedAt:           hook.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           hook.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidWebhookID, nil)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}
