// Package transport holds request and response shapes for distribution pools.
package transport

import (
	"time"

	"wacrm_backend/internal/distribution/domain"

	"github.com/google/uuid"
)

// AddMemberRequest adds a user to a webhook's pool.
type AddMemberRequest struct {
	UserID         string `json:"userId" validate:"required,uuid"`
	IsActive       *bool  `json:"isActive"`
	MaxLeadsPerDay *int   `json:"maxLeadsPerDay" validate:"omitempty,min=0,max=10000"`
}

// UpdateMemberRequest replaces the editable fields of a member. A null
// maxLeadsPerDay removes the cap.
type UpdateMemberRequest struct {
	IsActive       bool `json:"isActive"`
	MaxLeadsPerDay *int `json:"maxLeadsPerDay" validate:"omitempty,min=0,max=10000"`
}

// MemberResponse is one pool member. LeadsToday already applies the daily reset.
type MemberResponse struct {
	UserID         uuid.UUID  `json:"userId"`
	IsActive       bool       `json:"isActive"`
	MaxLeadsPerDay *int       `json:"maxLeadsPerDay"`
	LeadsToday     int        `json:"leadsToday"`
	LastLeadAt     *time.Time `json:"lastLeadAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ToMemberResponse maps a member for the given tenant-local day.
func ToMemberResponse(m domain.Member, today time.Time) MemberResponse {
	return MemberResponse{
		UserID:         m.UserID,
		IsActive:       m.IsActive,
		MaxLeadsPerDay: m.MaxLeadsPerDay,
		LeadsToday:     m.EffectiveLeadsToday(today),
		LastLeadAt:     m.LastLeadAt,
		CreatedAt:      m.CreatedAt,
	}
}
