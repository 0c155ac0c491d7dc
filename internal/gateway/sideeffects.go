package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

// Observe runs the post-response side effects: failed-attempt accounting on
// 401/403 and automatic escalation to an IP block once the windowed count
// reaches the threshold.
func (g *Gateway) Observe(ctx context.Context, req *Request, status int) {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return
	}
	now := g.clk.Now()
	key := failureKey(req.ResolvedIP, req.Email)
	count, _, _ := g.failures.Incr(key, 0, now)
	if count >= int64(g.opts.AutoBlockThreshold) {
		g.autoBlock(ctx, req, count)
	}
}

// autoBlock creates an automatic temporary block for the request's IP. The
// action is idempotent: an existing active block leaves it untouched.
func (g *Gateway) autoBlock(ctx context.Context, req *Request, failures int64) {
	minutes := int(g.opts.AutoBlockDuration.Minutes())
	block := &models.IPBlock{
		IPAddress:       req.ResolvedIP,
		BlockKind:       models.BlockAutomatic,
		Reason:          fmt.Sprintf("automatic block after %d failed attempts within %d minutes", failures, int(g.opts.FailedWindow.Minutes())),
		DurationMinutes: &minutes,
		BlockedAt:       g.clk.Now(),
		Status:          models.BlockActive,
	}
	err := g.store.CreateIPBlock(ctx, block)
	if errors.Is(err, repository.ErrAlreadyBlocked) {
		return
	}
	if err != nil {
		g.log.Error("automatic ip block failed", "ip", req.ResolvedIP, "error", err)
		return
	}
	g.log.Warn("ip blocked automatically", "ip", req.ResolvedIP, "failures", failures)
	if g.audit != nil {
		g.audit.Record(&models.SecurityEvent{
			EventKind:   models.EventIPBlocked,
			Severity:    models.DefaultSeverity(models.EventIPBlocked),
			Title:       "IP blocked automatically",
			Description: block.Reason,
			IPAddress:   req.ResolvedIP,
			UserAgent:   req.UserAgent,
			Country:     req.Country,
			City:        req.City,
			CreatedAt:   g.clk.Now(),
		})
	}
}

// RecordLogin emits the audit event for a login outcome. Callers may pass a
// severity to raise above the default; it is never lowered.
func (g *Gateway) RecordLogin(req *Request, kind models.SecurityEventKind, severity models.Severity, description string) {
	if g.audit == nil {
		return
	}
	e := &models.SecurityEvent{
		EventKind:   kind,
		Severity:    models.MaxSeverity(models.DefaultSeverity(kind), severity),
		Title:       loginTitle(kind),
		Description: description,
		IPAddress:   req.ResolvedIP,
		UserAgent:   req.UserAgent,
		Country:     req.Country,
		City:        req.City,
		CreatedAt:   g.clk.Now(),
	}
	if req.UserID != "" {
		id := req.UserID
		e.UserID = &id
	}
	g.audit.Record(e)
}

func loginTitle(kind models.SecurityEventKind) string {
	switch kind {
	case models.EventLoginSuccess:
		return "Login successful"
	case models.EventLoginFailed:
		return "Login failed"
	case models.EventLoginBlocked:
		return "Login blocked"
	}
	return "Login event"
}

func failureKey(ip, email string) string {
	return "fail|" + ip + "|" + strings.ToLower(email)
}
