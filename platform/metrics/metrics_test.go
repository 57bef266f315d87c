package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Middleware())
	engine.GET("/webhook/leads/:token", func(c *gin.Context) { c.Status(http.StatusCreated) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/webhook/leads/:token", "201")
	before := testutil.ToFloat64(counter)

	for _, token := range []string{"lwh_a", "lwh_b"} {
		engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/webhook/leads/"+token, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("expected 2 requests under the route template, got %v", got)
	}
}

func TestHandlerExposesDomainCollectors(t *testing.T) {
	WebhookIngest.WithLabelValues("201").Inc()

	rec := httptest.NewRecorder()
	Handler()(newContext(rec))

	if !strings.Contains(rec.Body.String(), "lead_webhook_ingest_total") {
		t.Fatal("expected lead_webhook_ingest_total in the exposition")
	}
}

func newContext(rec *httptest.ResponseRecorder) *gin.Context {
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	return c
}
