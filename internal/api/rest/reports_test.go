package rest

import (
	"net/http"
	"os"
	"testing"

	"github.com/admincore/admincore/internal/models"
)

func createTemplate(t *testing.T, env *testEnv, kind, format string) *models.ReportTemplate {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/admin/reports/templates", map[string]interface{}{
		"name":        "Test " + kind,
		"report_kind": kind,
		"format":      format,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var tmpl models.ReportTemplate
	decodeBody(t, rec, &tmpl)
	return &tmpl
}

func TestCreateReportTemplate_DefaultFormat(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/reports/templates", map[string]interface{}{
		"name":        "Security digest",
		"report_kind": "security",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var tmpl models.ReportTemplate
	decodeBody(t, rec, &tmpl)
	if tmpl.Format != models.FormatJSON {
		t.Errorf("Expected default format json, got %s", tmpl.Format)
	}
}

func TestReportTemplateCRUD(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "system", "json")

	rec := env.do(t, http.MethodGet, "/admin/reports/templates/"+tmpl.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/admin/reports/templates/"+tmpl.ID, map[string]interface{}{
		"format": "csv",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var updated models.ReportTemplate
	decodeBody(t, rec, &updated)
	if updated.Format != models.FormatCSV {
		t.Errorf("Expected format csv, got %s", updated.Format)
	}

	rec = env.do(t, http.MethodDelete, "/admin/reports/templates/"+tmpl.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
}

func TestGenerateReport(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "system", "json")

	rec := env.do(t, http.MethodPost, "/admin/reports/templates/"+tmpl.ID+"/generate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var exec models.ReportExecution
	decodeBody(t, rec, &exec)
	if exec.Status != models.ExecutionCompleted {
		t.Fatalf("Expected completed execution, got %s (%s)", exec.Status, exec.ErrorMsg)
	}
	if exec.FilePath == "" {
		t.Fatal("Expected an artifact path")
	}
	if _, err := os.Stat(exec.FilePath); err != nil {
		t.Errorf("Expected artifact on disk: %v", err)
	}
	if exec.FileSize <= 0 {
		t.Errorf("Expected positive file size, got %d", exec.FileSize)
	}
}

func TestGenerateReport_UnknownTemplate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/reports/templates/no-such-id/generate", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}
}

func TestCreateScheduledReport(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "security", "json")

	rec := env.do(t, http.MethodPost, "/admin/reports/scheduled", map[string]interface{}{
		"template_id": tmpl.ID,
		"name":        "Daily security",
		"recurrence":  "daily",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var s models.ScheduledReport
	decodeBody(t, rec, &s)
	if s.Status != models.ScheduleActive {
		t.Errorf("Expected default status active, got %s", s.Status)
	}
	if s.NextRun.IsZero() {
		t.Error("Expected next_run to be computed from the recurrence")
	}
}

func TestCreateScheduledReport_UnknownTemplate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/reports/scheduled", map[string]interface{}{
		"template_id": "no-such-template",
		"name":        "Broken",
		"recurrence":  "daily",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
}

func TestExecuteScheduledReport(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "system", "csv")

	rec := env.do(t, http.MethodPost, "/admin/reports/scheduled", map[string]interface{}{
		"template_id": tmpl.ID,
		"name":        "Hourly system",
		"recurrence":  "hourly",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var s models.ScheduledReport
	decodeBody(t, rec, &s)

	rec = env.do(t, http.MethodPost, "/admin/reports/scheduled/"+s.ID+"/execute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var exec models.ReportExecution
	decodeBody(t, rec, &exec)
	if exec.Status != models.ExecutionCompleted {
		t.Fatalf("Expected completed execution, got %s (%s)", exec.Status, exec.ErrorMsg)
	}
	if exec.ScheduleID != s.ID {
		t.Errorf("Expected execution bound to schedule %s, got %q", s.ID, exec.ScheduleID)
	}

	// The schedule advanced past its previous next_run.
	rec = env.do(t, http.MethodGet, "/admin/reports/scheduled/"+s.ID, nil)
	var after models.ScheduledReport
	decodeBody(t, rec, &after)
	if after.LastRun == nil {
		t.Error("Expected last_run to be recorded")
	}
	if after.NextRun.Before(s.NextRun) {
		t.Errorf("Expected next_run to advance from %v, got %v", s.NextRun, after.NextRun)
	}

	// The execution shows up in the schedule's history.
	rec = env.do(t, http.MethodGet, "/admin/reports/executions?schedule_id="+s.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var rows []*models.ReportExecution
	decodeBody(t, rec, &rows)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 execution for the schedule, got %d", len(rows))
	}
}

func TestCancelReportExecution_Completed(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "system", "json")

	rec := env.do(t, http.MethodPost, "/admin/reports/templates/"+tmpl.ID+"/generate", nil)
	var exec models.ReportExecution
	decodeBody(t, rec, &exec)

	// A completed run cannot be cancelled.
	rec = env.do(t, http.MethodPost, "/admin/reports/executions/"+exec.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d. Body: %s", rec.Code, rec.Body.String())
	}
}

func TestReportStatistics(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "system", "json")
	env.do(t, http.MethodPost, "/admin/reports/templates/"+tmpl.ID+"/generate", nil)

	rec := env.do(t, http.MethodGet, "/admin/reports/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		ByStatus map[string]int `json:"by_status"`
		Last24h  int            `json:"last_24h"`
	}
	decodeBody(t, rec, &stats)
	if stats.ByStatus["completed"] != 1 {
		t.Errorf("Expected 1 completed execution, got %d", stats.ByStatus["completed"])
	}
	if stats.Last24h != 1 {
		t.Errorf("Expected 1 execution in the last 24h, got %d", stats.Last24h)
	}
}
