package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/admincore/admincore/internal/models"
)

func TestCreateAlertRule(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "CPU high",
		"alert_kind":      "cpu",
		"threshold_value": 90,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var rule models.AlertRule
	decodeBody(t, rec, &rule)
	if rule.ID == "" {
		t.Error("Expected generated rule ID")
	}
	if rule.Severity != models.SeverityMedium {
		t.Errorf("Expected default severity medium, got %s", rule.Severity)
	}
	if rule.Status != models.AlertRuleActive {
		t.Errorf("Expected default status active, got %s", rule.Status)
	}
	if rule.Comparison != models.CompareGT {
		t.Errorf("Expected default comparison >, got %s", rule.Comparison)
	}
}

func TestCreateAlertRule_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name": "incomplete",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
}

func TestAlertRuleCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "Disk usage",
		"alert_kind":      "disk",
		"threshold_value": 85,
		"severity":        "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var created models.AlertRule
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodGet, "/admin/alerts/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/admin/alerts/rules/"+created.ID, map[string]interface{}{
		"threshold_value": 95,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var updated models.AlertRule
	decodeBody(t, rec, &updated)
	if updated.ThresholdValue != 95 {
		t.Errorf("Expected threshold 95, got %v", updated.ThresholdValue)
	}
	if updated.Name != "Disk usage" {
		t.Errorf("Expected name preserved, got %q", updated.Name)
	}

	rec = env.do(t, http.MethodDelete, "/admin/alerts/rules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/admin/alerts/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404 after delete, got %d", rec.Code)
	}
}

func TestCheckAlertsFires(t *testing.T) {
	env := newTestEnv(t)
	env.probe.cpu = 95

	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "CPU critical",
		"alert_kind":      "cpu",
		"threshold_value": 90,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/admin/alerts/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Fired  int                   `json:"fired"`
		Alerts []*models.SystemAlert `json:"alerts"`
	}
	decodeBody(t, rec, &result)
	if result.Fired != 1 {
		t.Fatalf("Expected 1 fired alert, got %d", result.Fired)
	}
	if result.Alerts[0].Status != models.AlertTriggered {
		t.Errorf("Expected triggered status, got %s", result.Alerts[0].Status)
	}
	if result.Alerts[0].CurrentValue != 95 {
		t.Errorf("Expected current value 95, got %v", result.Alerts[0].CurrentValue)
	}
}

func TestCheckAlertsBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.probe.cpu = 10

	env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "CPU critical",
		"alert_kind":      "cpu",
		"threshold_value": 90,
	})

	rec := env.do(t, http.MethodPost, "/admin/alerts/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var result struct {
		Fired int `json:"fired"`
	}
	decodeBody(t, rec, &result)
	if result.Fired != 0 {
		t.Errorf("Expected no fired alerts, got %d", result.Fired)
	}
}

func firedAlert(t *testing.T, env *testEnv) *models.SystemAlert {
	t.Helper()
	env.probe.cpu = 95
	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "CPU critical",
		"alert_kind":      "cpu",
		"threshold_value": 90,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/admin/alerts/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Alerts []*models.SystemAlert `json:"alerts"`
	}
	decodeBody(t, rec, &result)
	if len(result.Alerts) != 1 {
		t.Fatalf("Expected 1 fired alert, got %d", len(result.Alerts))
	}
	return result.Alerts[0]
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := firedAlert(t, env)

	rec := env.do(t, http.MethodPost, "/admin/alerts/"+a.ID+"/acknowledge", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var acked models.SystemAlert
	decodeBody(t, rec, &acked)
	if acked.Status != models.AlertAcknowledged {
		t.Errorf("Expected acknowledged, got %s", acked.Status)
	}
	if acked.AcknowledgedAt == nil {
		t.Error("Expected acknowledged_at to be set")
	}

	// Acknowledging twice is a conflict.
	rec = env.do(t, http.MethodPost, "/admin/alerts/"+a.ID+"/acknowledge", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 on second acknowledge, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/admin/alerts/"+a.ID+"/resolve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var resolved models.SystemAlert
	decodeBody(t, rec, &resolved)
	if resolved.Status != models.AlertResolved {
		t.Errorf("Expected resolved, got %s", resolved.Status)
	}

	// Resolved is terminal.
	rec = env.do(t, http.MethodPost, "/admin/alerts/"+a.ID+"/suppress", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 suppressing a resolved alert, got %d", rec.Code)
	}
}

func TestTransitionAlert_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/alerts/no-such-id/acknowledge", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}
}

func TestListAlerts_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	a := firedAlert(t, env)

	rec := env.do(t, http.MethodGet, "/admin/alerts?status=triggered", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var alerts []*models.SystemAlert
	decodeBody(t, rec, &alerts)
	if len(alerts) != 1 || alerts[0].ID != a.ID {
		t.Fatalf("Expected the fired alert in the triggered listing, got %d rows", len(alerts))
	}

	rec = env.do(t, http.MethodGet, "/admin/alerts?status=resolved", nil)
	var resolved []*models.SystemAlert
	decodeBody(t, rec, &resolved)
	if len(resolved) != 0 {
		t.Errorf("Expected no resolved alerts, got %d", len(resolved))
	}
}

func TestAlertStatistics(t *testing.T) {
	env := newTestEnv(t)
	firedAlert(t, env)

	rec := env.do(t, http.MethodGet, "/admin/alerts/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		BySeverity map[string]int `json:"by_severity"`
		Last24h    int            `json:"last_24h"`
		Active     int            `json:"active"`
	}
	decodeBody(t, rec, &stats)
	if stats.Active != 1 {
		t.Errorf("Expected 1 active alert, got %d", stats.Active)
	}
	if stats.Last24h != 1 {
		t.Errorf("Expected 1 alert in the last 24h, got %d", stats.Last24h)
	}
	if stats.BySeverity["medium"] != 1 {
		t.Errorf("Expected 1 medium alert, got %d", stats.BySeverity["medium"])
	}
}

func TestAlertCooldownSuppressesRefire(t *testing.T) {
	env := newTestEnv(t)
	env.probe.cpu = 95

	rec := env.do(t, http.MethodPost, "/admin/alerts/rules", map[string]interface{}{
		"name":            "CPU critical",
		"alert_kind":      "cpu",
		"threshold_value": 90,
		"cooldown_period": int(time.Hour.Seconds()),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/admin/alerts/check", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
	}

	rec = env.do(t, http.MethodGet, "/admin/alerts", nil)
	var alerts []*models.SystemAlert
	decodeBody(t, rec, &alerts)
	if len(alerts) != 1 {
		t.Errorf("Expected cooldown to keep a single alert, got %d", len(alerts))
	}
}
