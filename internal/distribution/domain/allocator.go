// Package domain implements capacity-bounded lead distribution. Selection is
// stateless: the member who waited longest is served next, so no rotation
// pointer has to be stored.
package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNoneEligible means every member is inactive or at capacity. Callers leave the
// lead unassigned.
var ErrNoneEligible = errors.New("no eligible distribution member")

// Member is one user in a webhook's distribution pool.
type Member struct {
	WebhookID      uuid.UUID
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	IsActive       bool
	// MaxLeadsPerDay nil means unlimited.
	MaxLeadsPerDay *int
	LeadsToday     int
	// LeadsDate is the tenant-local day LeadsToday counts. A different day means
	// the counter is stale and reads as zero.
	LeadsDate  *time.Time
	LastLeadAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LocalDate returns the calendar day of now in loc, as midnight UTC so it compares
// equal to a Postgres DATE scanned by pgx.
func LocalDate(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// EffectiveLeadsToday applies the lazy daily reset.
func (m Member) EffectiveLeadsToday(today time.Time) int {
	if m.LeadsDate == nil || !sameDay(*m.LeadsDate, today) {
		return 0
	}
	return m.LeadsToday
}

// Eligible reports whether the member may receive another lead today.
func (m Member) Eligible(today time.Time) bool {
	if !m.IsActive {
		return false
	}
	return m.MaxLeadsPerDay == nil || m.EffectiveLeadsToday(today) < *m.MaxLeadsPerDay
}

// SelectAssignee picks the eligible member whose last lead is oldest, members
// never assigned first. Ties go to the lowest leads_today, then the lowest user id.
func SelectAssignee(members []Member, today time.Time) (Member, error) {
	eligible := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Eligible(today) {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		return Member{}, ErrNoneEligible
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return before(eligible[i], eligible[j], today)
	})
	return eligible[0], nil
}

func before(a, b Member, today time.Time) bool {
	switch {
	case a.LastLeadAt == nil && b.LastLeadAt != nil:
		return true
	case a.LastLeadAt != nil && b.LastLeadAt == nil:
		return false
	case a.LastLeadAt != nil && b.LastLeadAt != nil && !a.LastLeadAt.Equal(*b.LastLeadAt):
		return a.LastLeadAt.Before(*b.LastLeadAt)
	}

	if la, lb := a.EffectiveLeadsToday(today), b.EffectiveLeadsToday(today); la != lb {
		return la < lb
	}
	return a.UserID.String() < b.UserID.String()
}

// RecordAssignment returns m after receiving one lead at now.
func RecordAssignment(m Member, now, today time.Time) Member {
	m.LeadsToday = m.EffectiveLeadsToday(today) + 1
	m.LeadsDate = &today
	m.LastLeadAt = &now
	return m
}
