package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/cache"
	"github.com/admincore/admincore/internal/gateway"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

type dropRecorder struct{}

func (dropRecorder) Record(e *models.SecurityEvent) {}

func newAdmissionRouter(t *testing.T, opts gateway.Options, status int) (*mux.Router, *repository.SQLiteRepository) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	g := gateway.New(repo, cache.NewStore(), nil, dropRecorder{}, nil, nil, opts)
	router := mux.NewRouter()
	router.Use(Admission(g, nil))
	router.HandleFunc("/admin/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}).Methods("GET", "POST")
	return router, repo
}

func doFrom(router *mux.Router, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/alerts", nil)
	req.RemoteAddr = ip + ":41000"
	req.Header.Set("User-Agent", "admincore-test/1.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdmission_AllowsCleanRequest(t *testing.T) {
	router, _ := newAdmissionRouter(t, gateway.Options{}, http.StatusOK)

	rec := doFrom(router, "198.51.100.20")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
}

func TestAdmission_BlockedIP(t *testing.T) {
	router, repo := newAdmissionRouter(t, gateway.Options{}, http.StatusOK)

	minutes := 30
	err := repo.CreateIPBlock(context.Background(), &models.IPBlock{
		IPAddress:       "198.51.100.21",
		BlockKind:       models.BlockManual,
		Reason:          "abuse",
		DurationMinutes: &minutes,
		BlockedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Failed to seed block: %v", err)
	}

	rec := doFrom(router, "198.51.100.21")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode rejection: %v", err)
	}
	if body.Code != string(gateway.CodeIPBlocked) {
		t.Errorf("Expected code ip-blocked, got %q", body.Code)
	}

	retry := rec.Header().Get("Retry-After")
	if retry == "" {
		t.Fatal("Expected Retry-After on a temporary block")
	}
	if secs, _ := strconv.Atoi(retry); secs <= 0 || secs > 30*60 {
		t.Errorf("Expected Retry-After within the block window, got %s", retry)
	}

	// Other addresses are unaffected.
	rec = doFrom(router, "198.51.100.22")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for a different IP, got %d", rec.Code)
	}
}

func TestAdmission_RateLimited(t *testing.T) {
	router, repo := newAdmissionRouter(t, gateway.Options{}, http.StatusOK)

	err := repo.CreateRateLimitRule(context.Background(), &models.APIRateLimit{
		Name:              "tight",
		Scope:             models.ScopeGlobal,
		RequestsPerMinute: 3,
		Active:            true,
	})
	if err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = doFrom(router, "198.51.100.23")
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected status 200, got %d. Body: %s", i+1, rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("Request %d: expected X-RateLimit-Limit 3, got %q", i+1, got)
		}
		want := strconv.Itoa(3 - (i + 1))
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("Request %d: expected X-RateLimit-Remaining %s, got %q", i+1, want, got)
		}
	}

	rec = doFrom(router, "198.51.100.23")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Fourth request: expected status 429, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Error           string `json:"error"`
		Code            string `json:"code"`
		CurrentRequests int64  `json:"current_requests"`
		MaxRequests     int64  `json:"max_requests"`
		ResetTime       string `json:"reset_time"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode rejection: %v", err)
	}
	if body.Code != string(gateway.CodeRateLimited) {
		t.Errorf("Expected code rate-limit-exceeded, got %q", body.Code)
	}
	if !strings.Contains(body.Error, "tight") {
		t.Errorf("Expected error to name the rule, got %q", body.Error)
	}
	if body.CurrentRequests != 4 {
		t.Errorf("Expected current_requests 4, got %d", body.CurrentRequests)
	}
	if body.MaxRequests != 3 {
		t.Errorf("Expected max_requests 3, got %d", body.MaxRequests)
	}
	reset, err := time.Parse(time.RFC3339, body.ResetTime)
	if err != nil {
		t.Fatalf("Failed to parse reset_time %q: %v", body.ResetTime, err)
	}
	if reset.Second() != 0 {
		t.Errorf("Expected reset_time on a minute boundary, got %v", reset)
	}
	if until := time.Until(reset); until <= 0 || until > time.Minute {
		t.Errorf("Expected reset_time within the current minute window, got %v", reset)
	}

	retry := rec.Header().Get("Retry-After")
	if secs, _ := strconv.Atoi(retry); secs <= 0 || secs > 60 {
		t.Errorf("Expected Retry-After within the minute window, got %q", retry)
	}
}

func TestAdmission_SuspiciousRequest(t *testing.T) {
	router, _ := newAdmissionRouter(t, gateway.Options{}, http.StatusOK)

	// No user-agent plus an SQL keyword in the query crosses the refusal
	// threshold.
	req := httptest.NewRequest(http.MethodGet, "/admin/alerts?q=1+union+select+passwords", nil)
	req.RemoteAddr = "198.51.100.24:41000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode rejection: %v", err)
	}
	if body.Code != string(gateway.CodeSuspicious) {
		t.Errorf("Expected code suspicious-request, got %q", body.Code)
	}
}

func TestAdmission_AutoBlockAfterFailures(t *testing.T) {
	// The wrapped handler always answers 401, standing in for failed signins.
	router, repo := newAdmissionRouter(t, gateway.Options{
		AutoBlockThreshold: 3,
		AutoBlockDuration:  10 * time.Minute,
	}, http.StatusUnauthorized)

	ip := "198.51.100.25"
	for i := 0; i < 3; i++ {
		rec := doFrom(router, ip)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Attempt %d: expected status 401, got %d", i+1, rec.Code)
		}
	}

	// The third failure reached the threshold; the IP is now blocked.
	rec := doFrom(router, ip)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403 after auto-block, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	blocks, err := repo.ListIPBlocks(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Failed to list blocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("Expected 1 block row, got %d", len(blocks))
	}
	if blocks[0].BlockKind != models.BlockAutomatic {
		t.Errorf("Expected automatic block kind, got %s", blocks[0].BlockKind)
	}
	if blocks[0].IPAddress != ip {
		t.Errorf("Expected block for %s, got %s", ip, blocks[0].IPAddress)
	}
}

func TestGatewayRequest_FormOnlyForURLEncoded(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/signin", nil)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.26:41000"

	greq := GatewayRequest(req)
	if len(greq.Form) != 0 {
		t.Errorf("Expected empty form for JSON bodies, got %v", greq.Form)
	}
	if greq.Method != http.MethodPost {
		t.Errorf("Expected POST, got %s", greq.Method)
	}
}

func TestGatewayRequest_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/alerts", nil)
	req.RemoteAddr = "10.0.0.1:41000"
	req.Header.Set("X-Forwarded-For", "203.0.113.30, 10.0.0.1")

	greq := GatewayRequest(req)
	if greq.ForwardedFor != "203.0.113.30, 10.0.0.1" {
		t.Errorf("Expected forwarded header carried, got %q", greq.ForwardedFor)
	}
	if got := gateway.ClientIP(greq.ForwardedFor, greq.RemoteAddr); got != "203.0.113.30" {
		t.Errorf("Expected resolved client 203.0.113.30, got %q", got)
	}
}
