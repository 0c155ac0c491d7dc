package models

import "time"

// RateLimitScope is the dimension along which a rate-limit rule partitions its
// counters.
type RateLimitScope string

const (
	ScopeGlobal   RateLimitScope = "global"
	ScopeUser     RateLimitScope = "user"
	ScopeIP       RateLimitScope = "ip"
	ScopeEndpoint RateLimitScope = "endpoint"
	ScopeAPIKey   RateLimitScope = "api_key"
)

// scopePriority orders rules for evaluation: more specific scopes run first.
var scopePriority = map[RateLimitScope]int{
	ScopeAPIKey:   0,
	ScopeEndpoint: 1,
	ScopeUser:     2,
	ScopeIP:       3,
	ScopeGlobal:   4,
}

// ScopePriority returns the evaluation order for s (lower = earlier).
func ScopePriority(s RateLimitScope) int {
	if p, ok := scopePriority[s]; ok {
		return p
	}
	return 100
}

// APIRateLimit is a configured rate-limit rule. Target identifies the scope
// instance (user id, IP, endpoint id, or API key); it is empty for global.
type APIRateLimit struct {
	ID                string         `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	Scope             RateLimitScope `json:"scope" db:"scope"`
	Target            string         `json:"target,omitempty" db:"target"`
	RequestsPerMinute int            `json:"requests_per_minute" db:"requests_per_minute"`
	RequestsPerHour   int            `json:"requests_per_hour" db:"requests_per_hour"`
	RequestsPerDay    int            `json:"requests_per_day" db:"requests_per_day"`
	Active            bool           `json:"active" db:"active"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// AppliesTo reports whether the rule matches a request identified by the given
// fields. Global rules always match; other scopes match when their target
// equals the corresponding request field.
func (r *APIRateLimit) AppliesTo(userID, ip, endpointID, apiKey string) bool {
	switch r.Scope {
	case ScopeGlobal:
		return true
	case ScopeUser:
		return userID != "" && r.Target == userID
	case ScopeIP:
		return r.Target == ip
	case ScopeEndpoint:
		return endpointID != "" && r.Target == endpointID
	case ScopeAPIKey:
		return apiKey != "" && r.Target == apiKey
	}
	return false
}

// RateLimitUsage is one windowed counter row, persisted for audit. The
// authoritative counter lives in the cache; this row trails it.
type RateLimitUsage struct {
	ID             string     `json:"id" db:"id"`
	RuleID         string     `json:"rule_id" db:"rule_id"`
	UserID         string     `json:"user_id,omitempty" db:"user_id"`
	IPAddress      string     `json:"ip_address" db:"ip_address"`
	EndpointID     string     `json:"endpoint_id,omitempty" db:"endpoint_id"`
	APIKey         string     `json:"api_key,omitempty" db:"api_key"`
	WindowStart    time.Time  `json:"window_start" db:"window_start"`
	WindowEnd      time.Time  `json:"window_end" db:"window_end"`
	RequestCount   int64      `json:"request_count" db:"request_count"`
	IsLimited      bool       `json:"is_limited" db:"is_limited"`
	LimitReachedAt *time.Time `json:"limit_reached_at,omitempty" db:"limit_reached_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
