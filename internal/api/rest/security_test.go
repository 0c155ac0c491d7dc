package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/admincore/admincore/internal/models"
)

func TestCreateIPBlock(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/security/ip-blocks", map[string]interface{}{
		"ip_address": "203.0.113.7",
		"reason":     "manual review",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var block models.IPBlock
	decodeBody(t, rec, &block)
	if block.BlockKind != models.BlockManual {
		t.Errorf("Expected manual block kind, got %s", block.BlockKind)
	}
	if block.ExpiresAt != nil {
		t.Error("Expected permanent block without expiry")
	}
}

func TestCreateIPBlock_Temporary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/security/ip-blocks", map[string]interface{}{
		"ip_address":       "203.0.113.8",
		"reason":           "probing",
		"duration_minutes": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var block models.IPBlock
	decodeBody(t, rec, &block)
	if block.ExpiresAt == nil {
		t.Fatal("Expected expiry on a temporary block")
	}
	if !block.ExpiresAt.After(block.BlockedAt) {
		t.Errorf("Expected expiry after blocked_at, got %v", block.ExpiresAt)
	}
}

func TestCreateIPBlock_Duplicate(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]interface{}{"ip_address": "203.0.113.9", "reason": "abuse"}
	rec := env.do(t, http.MethodPost, "/admin/security/ip-blocks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/admin/security/ip-blocks", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 on duplicate block, got %d. Body: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateIPBlock_MissingIP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/security/ip-blocks", map[string]interface{}{
		"reason": "no target",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
}

func TestRemoveIPBlock(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/security/ip-blocks", map[string]interface{}{
		"ip_address": "203.0.113.10",
	})
	var block models.IPBlock
	decodeBody(t, rec, &block)

	rec = env.do(t, http.MethodDelete, "/admin/security/ip-blocks/"+block.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	// Removed blocks drop out of the active listing.
	rec = env.do(t, http.MethodGet, "/admin/security/ip-blocks?status=active", nil)
	var active []*models.IPBlock
	decodeBody(t, rec, &active)
	if len(active) != 0 {
		t.Errorf("Expected no active blocks, got %d", len(active))
	}
}

func TestCreateRateLimitRule(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/security/rate-limits", map[string]interface{}{
		"name":                "global ceiling",
		"scope":               "global",
		"requests_per_minute": 600,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var rule models.APIRateLimit
	decodeBody(t, rec, &rule)
	if !rule.Active {
		t.Error("Expected rule created active")
	}

	rec = env.do(t, http.MethodGet, "/admin/security/rate-limits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var rules []*models.APIRateLimit
	decodeBody(t, rec, &rules)
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}
}

func TestListLoginAttempts_EmailFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		attempt := &models.LoginAttempt{
			Email:     email,
			Status:    models.LoginAttemptFailed,
			IPAddress: "198.51.100.4",
			CreatedAt: time.Now().UTC(),
		}
		if err := env.repo.CreateLoginAttempt(ctx, attempt); err != nil {
			t.Fatalf("Failed to seed login attempt: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/admin/security/login-attempts?email=alice@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var rows []*models.LoginAttempt
	decodeBody(t, rec, &rows)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 attempt, got %d", len(rows))
	}
	if rows[0].Email != "alice@example.com" {
		t.Errorf("Expected alice's attempt, got %s", rows[0].Email)
	}
}

func TestListSecurityEvents_KindFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events := []*models.SecurityEvent{
		{EventKind: models.EventLoginFailed, Severity: models.SeverityMedium, IPAddress: "198.51.100.5", Title: "login failed"},
		{EventKind: models.EventIPBlocked, Severity: models.SeverityHigh, IPAddress: "198.51.100.5", Title: "ip blocked"},
	}
	for _, e := range events {
		if err := env.repo.CreateSecurityEvent(ctx, e); err != nil {
			t.Fatalf("Failed to seed security event: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/admin/security/events?kind=ip_blocked", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var rows []*models.SecurityEvent
	decodeBody(t, rec, &rows)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(rows))
	}
	if rows[0].EventKind != models.EventIPBlocked {
		t.Errorf("Expected ip_blocked event, got %s", rows[0].EventKind)
	}

	rec = env.do(t, http.MethodGet, "/admin/security/events/"+rows[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
}
