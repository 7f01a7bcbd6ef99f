package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/metrics"
	"gigster/internal/middleware"
	"gigster/internal/models"
)

type idleJobs struct{}

func (idleJobs) OutcomeCountsSince(context.Context, time.Time) (int64, int64, error) { return 0, 0, nil }
func (idleJobs) OldestPendingScheduledAt(context.Context, time.Time) (*time.Time, error) {
	return nil, nil
}
func (idleJobs) CountByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

type noLimits struct{}

func (noLimits) List(context.Context) ([]models.RateLimit, error) { return nil, nil }

func newServer() *echo.Echo {
	e := echo.New()
	Setup(e, Deps{
		Metrics:       metrics.NewReporter(idleJobs{}, noLimits{}),
		APIKeys:       map[string]string{"secret-token": "alice"},
		WebhookSecret: "hook-secret",
		Deduper:       middleware.NewDeliveryDeduper(nil, time.Hour),
		Logger:        zap.NewNop(),
	})
	return e
}

func TestHealthIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newServer()
	for _, path := range []string{"/ops/social-queue", "/ops/rate-limits", "/metrics/slo", "/social-queue/stats"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestSLOWithToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics/slo", nil)
	req.Header.Set("Token", "secret-token")
	rec := httptest.NewRecorder()
	newServer().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/icadence", strings.NewReader(`{"id":"d1","type":"ping"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	newServer().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned webhook = %d, want 401", rec.Code)
	}
}

func TestWebhookSignedDuplicate(t *testing.T) {
	e := newServer()
	body := `{"id":"d1","type":"ping"}`

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/icadence", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(middleware.SignatureHeader, "sha256="+middleware.Sign("hook-secret", []byte(body)))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "duplicate") {
		t.Fatalf("first delivery = %d %s", rec.Code, rec.Body.String())
	}
	if rec := send(); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Errorf("second delivery = %d %s", rec.Code, rec.Body.String())
	}
}
