package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(RequestLogger(zerolog.Nop()))
	r.Use(RequestMetricsMiddleware("middleware-test"))
	r.GET("/v1/spells/:name", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})
	return r
}

func TestRequestIDGeneratedOrReused(t *testing.T) {
	testlog.Start(t)
	r := testRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/spells/ping", nil))
	id := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil || rec.Body.String() != id {
		t.Fatalf("expected generated uuid, header=%q body=%q", id, rec.Body.String())
	}

	sent := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/v1/spells/ping", nil)
	req.Header.Set(RequestIDHeader, sent)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Header().Get(RequestIDHeader) != sent {
		t.Fatalf("expected caller id reused, got %q", rec.Header().Get(RequestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/spells/ping", nil)
	req.Header.Set(RequestIDHeader, "not an id\r\n")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "not an id" {
		t.Fatalf("malformed id must be replaced")
	}
}

func TestUnmatchedRoutesShareOneLabel(t *testing.T) {
	testlog.Start(t)
	r := testRouter()
	unmatched := httpRequests.WithLabelValues("middleware-test", http.MethodGet, "unmatched", "404")
	before := testutil.ToFloat64(unmatched)

	for _, path := range []string{"/a", "/b/c", "/wp-admin"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(unmatched) - before; got != 3 {
		t.Fatalf("expected 3 unmatched requests, got %v", got)
	}

	matched := httpRequests.WithLabelValues("middleware-test", http.MethodGet, "/v1/spells/:name", "200")
	before = testutil.ToFloat64(matched)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/spells/info", nil))
	if got := testutil.ToFloat64(matched) - before; got != 1 {
		t.Fatalf("expected route pattern label, got %v", got)
	}
}
