package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	loc, _   = time.LoadLocation("America/Sao_Paulo")
	baseTime = time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	today    = LocalDate(baseTime, loc)
)

func limit(v int) *int { return &v }

func at(d time.Duration) *time.Time {
	t := baseTime.Add(d)
	return &t
}

func member(max *int, leadsToday int) Member {
	return Member{
		UserID:         uuid.New(),
		IsActive:       true,
		MaxLeadsPerDay: max,
		LeadsToday:     leadsToday,
		LeadsDate:      &today,
	}
}

func TestSelectAssigneeSkipsMemberAtCapacity(t *testing.T) {
	a := member(limit(3), 3)
	b := member(nil, 5)

	got, err := SelectAssignee([]Member{a, b}, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != b.UserID {
		t.Fatal("expected B since A is at capacity")
	}
}

func TestSelectAssigneeNeverPicksInactive(t *testing.T) {
	inactive := member(nil, 0)
	inactive.IsActive = false

	_, err := SelectAssignee([]Member{inactive}, today)
	if !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected ErrNoneEligible, got %v", err)
	}
	if _, err := SelectAssignee(nil, today); !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected ErrNoneEligible for an empty pool, got %v", err)
	}
}

func TestSelectAssigneePrefersOldestLastLead(t *testing.T) {
	recent := member(nil, 0)
	recent.LastLeadAt = at(-time.Minute)
	oldest := member(nil, 9)
	oldest.LastLeadAt = at(-3 * time.Hour)
	middle := member(nil, 0)
	middle.LastLeadAt = at(-time.Hour)

	got, _ := SelectAssignee([]Member{recent, oldest, middle}, today)
	if got.UserID != oldest.UserID {
		t.Fatal("expected the member with the oldest last_lead_at")
	}

	never := member(nil, 0)
	never.LeadsDate = nil
	got, _ = SelectAssignee([]Member{recent, oldest, never}, today)
	if got.UserID != never.UserID {
		t.Fatal("expected a never-assigned member to go first")
	}
}

func TestSelectAssigneeBreaksTiesByLeadsToday(t *testing.T) {
	busy := member(nil, 4)
	busy.LastLeadAt = at(-time.Hour)
	idle := member(nil, 1)
	idle.LastLeadAt = at(-time.Hour)

	got, _ := SelectAssignee([]Member{busy, idle}, today)
	if got.UserID != idle.UserID {
		t.Fatal("expected the member with fewer leads today on equal last_lead_at")
	}
}

func TestEffectiveLeadsTodayResetsOnNewDay(t *testing.T) {
	yesterday := today.AddDate(0, 0, -1)
	m := member(limit(2), 2)
	m.LeadsDate = &yesterday

	if got := m.EffectiveLeadsToday(today); got != 0 {
		t.Fatalf("expected stale counter to read 0, got %d", got)
	}
	if !m.Eligible(today) {
		t.Fatal("expected member at yesterday's cap to be eligible today")
	}

	assigned := RecordAssignment(m, baseTime, today)
	if assigned.LeadsToday != 1 || !assigned.LeadsDate.Equal(today) {
		t.Fatalf("expected counter restarted at 1 for today, got %d on %v", assigned.LeadsToday, assigned.LeadsDate)
	}
}

func TestLocalDateUsesTenantTimezone(t *testing.T) {
	// 01:30 UTC on July 2nd is still July 1st in Sao Paulo (UTC-3).
	late := time.Date(2026, 7, 2, 1, 30, 0, 0, time.UTC)
	if got := LocalDate(late, loc); got.Day() != 1 {
		t.Fatalf("expected July 1st in tenant time, got %v", got)
	}
	if got := LocalDate(late, nil); got.Day() != 2 {
		t.Fatalf("expected July 2nd in UTC, got %v", got)
	}
}

func TestSelectAssigneeDistributesFairly(t *testing.T) {
	const n, k = 4, 3
	pool := make([]Member, n)
	for i := range pool {
		pool[i] = Member{UserID: uuid.New(), IsActive: true, MaxLeadsPerDay: limit(k)}
	}

	counts := map[uuid.UUID]int{}
	now := baseTime
	for call := 0; call < n*k; call++ {
		chosen, err := SelectAssignee(pool, today)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", call, err)
		}
		counts[chosen.UserID]++
		for i := range pool {
			if pool[i].UserID == chosen.UserID {
				pool[i] = RecordAssignment(pool[i], now, today)
			}
		}
		now = now.Add(time.Second)
	}

	for _, m := range pool {
		if counts[m.UserID] != k {
			t.Fatalf("member %s received %d leads, want %d", m.UserID, counts[m.UserID], k)
		}
		if m.LeadsToday > *m.MaxLeadsPerDay {
			t.Fatalf("member %s exceeded capacity", m.UserID)
		}
	}

	if _, err := SelectAssignee(pool, today); !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("expected call %d to find nobody eligible, got %v", n*k+1, err)
	}
}
