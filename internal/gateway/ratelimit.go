package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/admincore/admincore/internal/cache"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
)

// checkRateLimits evaluates every matching rule across the minute, hour and
// day windows. The first window that trips causes rejection. When no rule
// trips, the returned decision carries the tightest remaining minute budget.
// Rule listing failure is fail-open: counters cannot be consulted, so the
// request proceeds.
func (g *Gateway) checkRateLimits(ctx context.Context, req *Request, now time.Time) (Decision, bool) {
	allow := Decision{Code: CodeAllow, Remaining: -1}

	rules, err := g.store.ListActiveRateLimitRules(ctx)
	if err != nil {
		g.log.Error("rate-limit rule listing failed, admitting", "error", err)
		return allow, false
	}

	matching := rules[:0]
	for _, rule := range rules {
		if rule.AppliesTo(req.UserID, req.ResolvedIP, req.EndpointID, req.APIKey) {
			matching = append(matching, rule)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return models.ScopePriority(matching[i].Scope) < models.ScopePriority(matching[j].Scope)
	})

	for _, rule := range matching {
		for _, w := range g.windows(rule) {
			if w.limit <= 0 {
				continue
			}
			windowStart := now.Truncate(w.size)
			key := usageKey(rule.ID, req, w.name, windowStart)
			count, limited, reachedAt := w.counters.Incr(key, int64(w.limit), now)
			if limited {
				metrics.RateLimitRejectionsTotal.WithLabelValues(rule.Name).Inc()
				g.persistUsage(rule, req, windowStart, windowStart.Add(w.size), count, true, reachedAt)
				return Decision{
					Code:            CodeRateLimited,
					Message:         fmt.Sprintf("rate limit %q exceeded", rule.Name),
					RuleName:        rule.Name,
					CurrentRequests: count,
					MaxRequests:     int64(w.limit),
					ResetTime:       windowStart.Add(w.size),
				}, true
			}
			if w.name == "minute" {
				if rem := int64(w.limit) - count; allow.Remaining < 0 || rem < allow.Remaining {
					allow.Remaining = rem
					allow.RuleName = rule.Name
					allow.MaxRequests = int64(w.limit)
					allow.ResetTime = windowStart.Add(w.size)
				}
			}
		}
	}
	return allow, false
}

type window struct {
	name     string
	size     time.Duration
	limit    int
	counters *cache.Counters
}

func (g *Gateway) windows(rule *models.APIRateLimit) [3]window {
	return [3]window{
		{"minute", time.Minute, rule.RequestsPerMinute, g.counters.Minute},
		{"hour", time.Hour, rule.RequestsPerHour, g.counters.Hour},
		{"day", 24 * time.Hour, rule.RequestsPerDay, g.counters.Day},
	}
}

func usageKey(ruleID string, req *Request, windowName string, windowStart time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		ruleID, req.UserID, req.ResolvedIP, req.EndpointID, req.APIKey, windowName, windowStart.Unix())
}

// persistUsage trails the authoritative cache counter into the store for
// audit. It runs off the request path; a write failure is logged and dropped.
func (g *Gateway) persistUsage(rule *models.APIRateLimit, req *Request, windowStart, windowEnd time.Time, count int64, limited bool, reachedAt time.Time) {
	usage := &models.RateLimitUsage{
		RuleID:       rule.ID,
		UserID:       req.UserID,
		IPAddress:    req.ResolvedIP,
		EndpointID:   req.EndpointID,
		APIKey:       req.APIKey,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		RequestCount: count,
		IsLimited:    limited,
	}
	if limited && !reachedAt.IsZero() {
		t := reachedAt
		usage.LimitReachedAt = &t
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.UpsertRateLimitUsage(ctx, usage); err != nil {
			g.log.Warn("rate-limit usage write failed", "rule", rule.Name, "error", err)
		}
	}()
}

func suspicionMetadata(req *Request, d Decision) string {
	payload := map[string]any{
		"risk_score": d.RiskScore,
		"indicators": d.Indicators,
		"method":     req.Method,
		"path":       req.Path,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
