package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/admincore/admincore/internal/hostprobe"
)

// SystemProbe reads host signals for the system endpoints. Satisfied by
// *hostprobe.Probe.
type SystemProbe interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	DiskPercent() (float64, error)
	DBPing(ctx context.Context) error
	CachePing() error
	Info() hostprobe.SystemInfo
}

type maintenanceState struct {
	on atomic.Bool
}

// SystemInfo handles GET /admin/system/info
func (h *Handler) SystemInfo(w http.ResponseWriter, r *http.Request) {
	cpu, _ := h.probe.CPUPercent()
	mem, _ := h.probe.MemoryPercent()
	disk, _ := h.probe.DiskPercent()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"host":            h.probe.Info(),
		"cpu_percent":     cpu,
		"memory_percent":  mem,
		"disk_percent":    disk,
		"server_time_utc": time.Now().UTC(),
	})
}

// componentHealth is one entry of the health payload.
type componentHealth struct {
	Status string  `json:"status"`
	Value  float64 `json:"value,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

func usageHealth(read func() (float64, error)) componentHealth {
	pct, err := read()
	if err != nil {
		return componentHealth{Status: "unknown", Detail: err.Error()}
	}
	status := "healthy"
	switch {
	case pct >= 95:
		status = "critical"
	case pct >= 80:
		status = "degraded"
	}
	return componentHealth{Status: status, Value: pct}
}

func pingHealth(err error) componentHealth {
	if err != nil {
		return componentHealth{Status: "down", Detail: err.Error()}
	}
	return componentHealth{Status: "healthy"}
}

// SystemHealth handles GET /admin/system/health
func (h *Handler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	score := h.sampler.HealthScore(r.Context())
	status := "healthy"
	switch {
	case score < 50:
		status = "critical"
	case score < 80:
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"score":  score,
		"components": map[string]componentHealth{
			"database": pingHealth(h.probe.DBPing(r.Context())),
			"cache":    pingHealth(h.probe.CachePing()),
			"cpu":      usageHealth(h.probe.CPUPercent),
			"memory":   usageHealth(h.probe.MemoryPercent),
			"disk":     usageHealth(h.probe.DiskPercent),
		},
	})
}

// SystemBackup handles POST /admin/system/backup: snapshots the database into
// the backup directory.
func (h *Handler) SystemBackup(w http.ResponseWriter, r *http.Request) {
	if err := os.MkdirAll(h.backupDir, 0o755); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	name := fmt.Sprintf("admincore_%s.db", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(h.backupDir, name)
	if err := h.store.BackupTo(r.Context(), path); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"file": path,
		"size": info.Size(),
	})
}

// CacheClear handles POST /admin/system/cache/clear
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		h.cache.Purge()
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "cache cleared"})
}

// MaintenanceStatus handles GET /admin/system/maintenance
func (h *Handler) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": h.maintenance.on.Load()})
}

// SetMaintenance handles POST /admin/system/maintenance
func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	h.maintenance.on.Store(body.Enabled)
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}
