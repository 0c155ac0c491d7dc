// Package gateway implements per-request admission control: client
// identification, IP blocklist, windowed rate limiting, suspicious-pattern
// detection and the post-response side effects.
package gateway

import (
	"net"
	"net/url"
	"strings"
	"time"
)

// Request carries the inbound request fields the admission pipeline consumes.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Form         url.Values
	BodySize     int64
	UserAgent    string
	ForwardedFor string
	RemoteAddr   string

	// Optional identity fields resolved by the HTTP layer.
	UserID     string
	Email      string
	EndpointID string
	APIKey     string

	// Annotations filled by the pipeline.
	ResolvedIP string
	Country    string
	City       string
}

// DecisionCode classifies the admission outcome.
type DecisionCode string

const (
	CodeAllow       DecisionCode = "allow"
	CodeIPBlocked   DecisionCode = "ip-blocked"
	CodeRateLimited DecisionCode = "rate-limit-exceeded"
	CodeSuspicious  DecisionCode = "suspicious-request"
)

// Decision is the admission outcome for one request.
type Decision struct {
	Code    DecisionCode
	Message string

	// Allow annotations: remaining budget on the tightest matching rule.
	RuleName  string
	Remaining int64

	// Blocked annotations.
	BlockReason    string
	RetryAfter     time.Duration // zero for permanent blocks
	BlockPermanent bool

	// Rate-limit annotations.
	CurrentRequests int64
	MaxRequests     int64
	ResetTime       time.Time

	// Suspicion annotations. Indicators are also attached on Allow so
	// downstream logging sees sub-threshold matches.
	RiskScore  int
	Indicators []string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Code == CodeAllow }

// HTTPStatus maps the decision to its response status.
func (d Decision) HTTPStatus() int {
	switch d.Code {
	case CodeRateLimited:
		return 429
	case CodeIPBlocked, CodeSuspicious:
		return 403
	}
	return 200
}

// ClientIP extracts the client address: the first comma-separated value of
// the forwarded-for header wins, else the direct peer. Anything that does not
// parse as an IPv4/IPv6 address collapses to 127.0.0.1.
func ClientIP(forwardedFor, remoteAddr string) string {
	candidate := ""
	if forwardedFor != "" {
		candidate = forwardedFor
		if idx := strings.Index(candidate, ","); idx >= 0 {
			candidate = candidate[:idx]
		}
		candidate = strings.TrimSpace(candidate)
	} else {
		candidate = remoteAddr
		if host, _, err := net.SplitHostPort(candidate); err == nil {
			candidate = host
		}
		candidate = strings.Trim(candidate, "[]")
	}
	if net.ParseIP(candidate) == nil {
		return "127.0.0.1"
	}
	return candidate
}
