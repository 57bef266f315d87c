package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wacrm_backend/platform/apperr"
	"wacrm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeReader struct {
	limit      int
	label      string
	statsCalls int
	failStats  int
	board      []LeadScoreWithDeal
	historyErr error
}

func (f *fakeReader) Leaderboard(_ context.Context, _ uuid.UUID, limit int, label string) ([]LeadScoreWithDeal, error) {
	f.limit = limit
	f.label = label
	return f.board, nil
}

func (f *fakeReader) Stats(context.Context, uuid.UUID) (Stats, error) {
	f.statsCalls++
	if f.statsCalls <= f.failStats {
		return Stats{}, apperr.Unavailable("db timeout", context.DeadlineExceeded)
	}
	return Stats{Total: 3, Hot: 1, Warm: 1, Cold: 1}, nil
}

func (f *fakeReader) ScoreHistory(_ context.Context, _, _ uuid.UUID, limit int) ([]ScoreEntry, error) {
	f.limit = limit
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return []ScoreEntry{}, nil
}

func (f *fakeReader) AssignmentLog(_ context.Context, _, _ uuid.UUID, limit int) ([]AssignmentEntry, error) {
	f.limit = limit
	return []AssignmentEntry{}, nil
}

func TestLeaderboardNormalizesLimit(t *testing.T) {
	reader := &fakeReader{}
	svc := NewService(reader, 1)

	cases := []struct{ in, want int }{{0, defaultLimit}, {-5, defaultLimit}, {500, maxLimit}, {7, 7}}
	for _, tc := range cases {
		if _, err := svc.Leaderboard(context.Background(), uuid.New(), tc.in, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reader.limit != tc.want {
			t.Fatalf("limit %d: expected %d, got %d", tc.in, tc.want, reader.limit)
		}
	}
}

func TestLeaderboardRejectsUnknownLabel(t *testing.T) {
	reader := &fakeReader{}
	_, err := NewService(reader, 1).Leaderboard(context.Background(), uuid.New(), 10, "lukewarm")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if reader.limit != 0 {
		t.Fatal("reader must not be queried for an invalid label")
	}
}

func TestStatsRetriesTransientFailures(t *testing.T) {
	reader := &fakeReader{failStats: 2}
	stats, err := NewService(reader, 3).Stats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 3 || reader.statsCalls != 3 {
		t.Fatalf("expected success on third attempt, got %+v after %d calls", stats, reader.statsCalls)
	}
}

func newTestEngine(svc *Service, tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	group := engine.Group("/", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextTenantIDKey, tenantID)
		c.Next()
	})
	h := NewHandler(svc)
	h.RegisterScoreRoutes(group.Group("/lead-scores"))
	h.RegisterWebhookRoutes(group.Group("/lead-webhooks"))
	return engine
}

func TestLeaderboardHandlerPassesLabel(t *testing.T) {
	reader := &fakeReader{board: []LeadScoreWithDeal{{DealID: uuid.New(), Score: 91, Label: "hot"}}}
	engine := newTestEngine(NewService(reader, 1), uuid.New())

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lead-scores/leaderboard?label=hot&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reader.label != "hot" || reader.limit != 5 {
		t.Fatalf("expected label hot and limit 5, got %q and %d", reader.label, reader.limit)
	}

	var body struct {
		Items []LeadScoreWithDeal `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Score != 91 {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestHistoryHandlerMapsErrors(t *testing.T) {
	reader := &fakeReader{historyErr: apperr.NotFound("deal not found")}
	engine := newTestEngine(NewService(reader, 1), uuid.New())

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lead-scores/deals/"+uuid.NewString()+"/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lead-scores/deals/not-a-uuid/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lead-webhooks/"+uuid.NewString()+"/assignments?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric limit, got %d", rec.Code)
	}
}
