// Package notification forwards lead events to the outside world: persistent
// messages on the AMQP exchange for the external dispatcher, and live updates
// to connected browsers over SSE.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wacrm_backend/internal/events"
	apphttp "wacrm_backend/internal/http"
	"wacrm_backend/internal/notification/broker"
	"wacrm_backend/internal/notification/sse"
	"wacrm_backend/platform/httpkit"
	"wacrm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Message is the envelope published to the broker.
type Message struct {
	ID         uuid.UUID    `json:"id"`
	Event      string       `json:"event"`
	TenantID   uuid.UUID    `json:"tenantId"`
	OccurredAt time.Time    `json:"occurredAt"`
	Payload    events.Event `json:"payload"`
}

// Module is the notification module implementing http.Module and events.Handler.
type Module struct {
	publisher broker.Publisher
	sse       *sse.Service
	log       *logger.Logger
}

// New creates the notification module.
func New(publisher broker.Publisher, stream *sse.Service, log *logger.Logger) *Module {
	return &Module{publisher: publisher, sse: stream, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes registers the live notification stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/notifications/stream", m.sse.Handler(
		func(c *gin.Context) (uuid.UUID, bool) {
			id := httpkit.GetIdentity(c)
			return id.UserID(), id.IsAuthenticated()
		},
		httpkit.MustGetTenantID,
	))
}

// RegisterHandlers subscribes the module to the lead events it forwards.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadScoreHotChanged{}.EventName(), m)
	bus.Subscribe(events.LeadAssigned{}.EventName(), m)
	bus.Subscribe(events.LeadIngested{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadScoreHotChanged:
		return m.handleHotChanged(ctx, e)
	case events.LeadAssigned:
		return m.handleLeadAssigned(ctx, e)
	case events.LeadIngested:
		return m.handleLeadIngested(ctx, e)
	default:
		m.log.Warn("notification: unhandled event", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleHotChanged(ctx context.Context, e events.LeadScoreHotChanged) error {
	eventType, message := sse.EventLeadCooled, fmt.Sprintf("Lead cooled down to %d (%s)", e.Score, e.Label)
	if e.BecameHot {
		eventType, message = sse.EventLeadHot, fmt.Sprintf("Lead is hot with score %d", e.Score)
	}
	m.sse.PublishToOrganization(e.TenantID, sse.Event{
		Type:    eventType,
		DealID:  e.DealID,
		Message: message,
		Data:    gin.H{"score": e.Score, "previousScore": e.PreviousScore, "label": e.Label, "trigger": e.Trigger},
	})
	return m.publish(ctx, e.TenantID, e)
}

func (m *Module) handleLeadAssigned(ctx context.Context, e events.LeadAssigned) error {
	m.sse.Publish(e.UserID, sse.Event{
		Type:    sse.EventLeadAssigned,
		DealID:  e.DealID,
		Message: "A new lead was assigned to you",
		Data:    gin.H{"webhookId": e.WebhookID, "leadsToday": e.LeadsToday},
	})
	return m.publish(ctx, e.TenantID, e)
}

// handleLeadIngested only updates live views; assignment has its own message.
func (m *Module) handleLeadIngested(_ context.Context, e events.LeadIngested) error {
	if e.Duplicate {
		return nil
	}
	m.sse.PublishToOrganization(e.TenantID, sse.Event{
		Type:   sse.EventLeadIngested,
		DealID: e.DealID,
		Data:   gin.H{"webhookId": e.WebhookID, "assignedUserId": e.AssignedUserID},
	})
	return nil
}

func (m *Module) publish(ctx context.Context, tenantID uuid.UUID, event events.Event) error {
	body, err := json.Marshal(Message{
		ID:         uuid.New(),
		Event:      event.EventName(),
		TenantID:   tenantID,
		OccurredAt: event.OccurredAt(),
		Payload:    event,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	if err := m.publisher.Publish(ctx, event.EventName(), body); err != nil {
		m.log.WithContext(ctx).Error("notification: broker publish failed", "event", event.EventName(), "error", err)
		return err
	}
	return nil
}

var (
	_ apphttp.Module = (*Module)(nil)
	_ events.Handler = (*Module)(nil)
)
