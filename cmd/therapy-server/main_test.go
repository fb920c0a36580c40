package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/therapyconnect/api/internal/config"
	"github.com/therapyconnect/api/internal/platform/auth"
	"github.com/therapyconnect/api/internal/platform/metrics"
	"github.com/therapyconnect/api/internal/platform/notification"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:             "development",
		LogLevel:        "debug",
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitRPS:    100,
		RateLimitBurst:  100,
		RequestTimeout:  5 * time.Second,
		JWTIssuer:       "therapyconnect",
		JWTTTL:          time.Hour,
		BookingLeadTime: 6 * time.Hour,
		RescheduleLimit: 2,
		SweepGrace:      time.Hour,
		MeetingBaseURL:  "https://meet.example.test",
		MeetingTimeout:  time.Second,
	}
}

// newTestApp wires the services without a database. Only requests that are
// rejected before reaching a repository may be served.
func newTestApp(t *testing.T) (*app, *echo.Echo) {
	t.Helper()
	reg := prometheus.NewRegistry()
	a, err := wire(testConfig(), zerolog.Nop(), nil, metrics.NewWithRegistry(reg, reg))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	t.Cleanup(a.dispatcher.Close)
	return a, a.router()
}

func bearer(t *testing.T, cfg *config.Config, role auth.Role) string {
	t.Helper()
	issuer := auth.NewTokenIssuer(cfg.SigningKey(), cfg.JWTIssuer, cfg.JWTTTL)
	tok, _, err := issuer.Issue(auth.Principal{UserID: uuid.New(), Role: role, ProfileID: uuid.New(), Email: "x@example.test"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + tok
}

func TestRouter_HealthIsPublic(t *testing.T) {
	_, e := newTestApp(t)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	_, e := newTestApp(t)
	for _, path := range []string{"/api/v1/appointments/patient", "/api/v1/therapy-panels", "/api/v1/availabilities"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestRouter_RolesEnforced(t *testing.T) {
	a, e := newTestApp(t)
	cases := []struct {
		method string
		path   string
		role   auth.Role
	}{
		{http.MethodGet, "/api/v1/appointments/patient", auth.RoleTherapist},
		{http.MethodGet, "/api/v1/appointments/therapist", auth.RolePatient},
		{http.MethodPost, "/api/v1/appointments", auth.RoleTherapist},
		{http.MethodPost, "/api/v1/availabilities", auth.RolePatient},
		{http.MethodPatch, "/api/v1/appointments/" + uuid.NewString() + "/cancel", auth.RolePatient},
		{http.MethodGet, "/api/v1/appointments/" + uuid.NewString(), auth.RoleAdmin},
		{http.MethodPost, "/api/v1/issues", auth.RolePatient},
		{http.MethodGet, "/api/v1/patients/me", auth.RoleTherapist},
		{http.MethodGet, "/api/v1/patients", auth.RolePatient},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", bearer(t, a.cfg, tc.role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s as %s: expected 403, got %d", tc.method, tc.path, tc.role, rec.Code)
		}
	}
}

func TestRouter_RegistersSchedulingRoutes(t *testing.T) {
	_, e := newTestApp(t)
	have := map[string]bool{}
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/availabilities",
		"POST /api/v1/availabilities",
		"DELETE /api/v1/availabilities/:id",
		"POST /api/v1/appointments",
		"GET /api/v1/appointments/patient",
		"GET /api/v1/appointments/therapist",
		"PUT /api/v1/appointments/:id",
		"PATCH /api/v1/appointments/:id/cancel",
		"POST /api/v1/therapy-panels",
		"POST /api/v1/auth/login",
		"GET /api/v1/patients/me",
		"PUT /api/v1/patients/me",
		"DELETE /api/v1/patients/me",
		"GET /api/v1/patients",
		"PUT /api/v1/patients/:id/summary",
		"GET /metrics",
		"GET /health/db",
	} {
		if !have[want] {
			t.Errorf("route %q not registered", want)
		}
	}
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	_, e := newTestApp(t)
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `therapy_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("expected request counter in body:\n%s", rec.Body.String())
	}
}

func TestWire_RejectsBadMeetingURL(t *testing.T) {
	cfg := testConfig()
	cfg.MeetingBaseURL = "ftp://meet"
	reg := prometheus.NewRegistry()
	if _, err := wire(cfg, zerolog.Nop(), nil, metrics.NewWithRegistry(reg, reg)); err == nil {
		t.Fatal("expected error for non-http meeting url")
	}
}

func TestNewSender(t *testing.T) {
	cfg := testConfig()
	if _, ok := newSender(cfg, zerolog.Nop()).(notification.LogSender); !ok {
		t.Error("expected LogSender without SMTP_HOST")
	}
	cfg.SMTPHost = "smtp.example.test"
	if _, ok := newSender(cfg, zerolog.Nop()).(*notification.SMTPSender); !ok {
		t.Error("expected SMTPSender with SMTP_HOST")
	}
}

func TestPolicyFrom(t *testing.T) {
	cfg := testConfig()
	cfg.BookingLeadTime = 90 * time.Minute
	cfg.RescheduleLimit = 5
	p := policyFrom(cfg)
	if p.LeadTime != 90*time.Minute || p.RescheduleLimit != 5 || p.SweepGrace != time.Hour {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.LogLevel = "warn"
	if got := newLogger(cfg).GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", got)
	}
	cfg.LogLevel = "loud"
	if got := newLogger(cfg).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected info fallback, got %s", got)
	}
}
