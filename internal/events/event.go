// Package events defines the lead events exchanged between modules.
// The bus itself lives in platform/events.
package events

import (
	"context"
	"time"

	"wacrm_backend/platform/events"
	"wacrm_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates the process-local bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// On adapts a handler for one concrete event type.
func On[T Event](fn func(ctx context.Context, event T) error) Handler {
	return events.On(fn)
}

// =============================================================================
// Lead Scoring Events
// =============================================================================

// LeadScoreHotChanged is published when a deal's score crosses into or out of "hot".
// Consumed by the notification dispatcher.
type LeadScoreHotChanged struct {
	BaseEvent
	TenantID      uuid.UUID `json:"tenantId"`
	DealID        uuid.UUID `json:"dealId"`
	Score         int       `json:"score"`
	PreviousScore *int      `json:"previousScore,omitempty"`
	Label         string    `json:"label"`
	PreviousLabel string    `json:"previousLabel,omitempty"`
	BecameHot     bool      `json:"becameHot"`
	Trigger       string    `json:"trigger"`
}

func (e LeadScoreHotChanged) EventName() string { return "leadscore.hot.changed" }

// LeadScoreRecalculated is published after every committed recalculation.
type LeadScoreRecalculated struct {
	BaseEvent
	TenantID     uuid.UUID `json:"tenantId"`
	DealID       uuid.UUID `json:"dealId"`
	Score        int       `json:"score"`
	Label        string    `json:"label"`
	Trend        string    `json:"trend"`
	Trigger      string    `json:"trigger"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

func (e LeadScoreRecalculated) EventName() string { return "leadscore.recalculated" }

// =============================================================================
// Lead Capture & Distribution Events
// =============================================================================

// LeadIngested is published when an inbound webhook call produced a deal.
type LeadIngested struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	WebhookID      uuid.UUID  `json:"webhookId"`
	DealID         uuid.UUID  `json:"dealId"`
	ProspectID     uuid.UUID  `json:"prospectId"`
	AssignedUserID *uuid.UUID `json:"assignedUserId,omitempty"`
	Duplicate      bool       `json:"duplicate"`
}

func (e LeadIngested) EventName() string { return "webhook.lead.ingested" }

// LeadAssigned is published when the allocator hands a lead to a member.
type LeadAssigned struct {
	BaseEvent
	TenantID   uuid.UUID `json:"tenantId"`
	WebhookID  uuid.UUID `json:"webhookId"`
	DealID     uuid.UUID `json:"dealId"`
	UserID     uuid.UUID `json:"userId"`
	LeadsToday int       `json:"leadsToday"`
}

func (e LeadAssigned) EventName() string { return "distribution.lead.assigned" }
