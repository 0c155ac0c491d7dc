package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admincore/admincore/internal/cache"
	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
)

// Store is the persistence surface the gateway consumes.
type Store interface {
	ActiveIPBlock(ctx context.Context, ip string, now time.Time) (*models.IPBlock, error)
	CreateIPBlock(ctx context.Context, b *models.IPBlock) error
	ListActiveRateLimitRules(ctx context.Context) ([]*models.APIRateLimit, error)
	UpsertRateLimitUsage(ctx context.Context, u *models.RateLimitUsage) error
}

// GeoProvider resolves request geolocation. Nil is a valid provider.
type GeoProvider interface {
	Lookup(ip string) (country, city string, err error)
}

// Recorder accepts security events off the request path.
type Recorder interface {
	Record(e *models.SecurityEvent)
}

// Options tunes escalation behavior.
type Options struct {
	AutoBlockThreshold int           // failed attempts before an automatic block
	AutoBlockDuration  time.Duration // automatic block length
	FailedWindow       time.Duration // failed-attempt accounting window
}

func (o *Options) defaults() {
	if o.AutoBlockThreshold <= 0 {
		o.AutoBlockThreshold = 5
	}
	if o.AutoBlockDuration <= 0 {
		o.AutoBlockDuration = 60 * time.Minute
	}
	if o.FailedWindow <= 0 {
		o.FailedWindow = 15 * time.Minute
	}
}

// Gateway runs the admission pipeline: blocklist, then rate limit, then
// suspicion scan, strictly in that order.
type Gateway struct {
	store    Store
	counters *cache.Store
	failures *cache.Counters
	geo      GeoProvider
	audit    Recorder
	clk      clock.Clock
	log      *slog.Logger
	opts     Options
}

// New builds a gateway. geo may be nil.
func New(store Store, counters *cache.Store, geo GeoProvider, audit Recorder, clk clock.Clock, log *slog.Logger, opts Options) *Gateway {
	opts.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		store:    store,
		counters: counters,
		failures: cache.NewCounters(opts.FailedWindow, 0),
		geo:      geo,
		audit:    audit,
		clk:      clk,
		log:      log,
		opts:     opts,
	}
}

// Admit runs the fixed-order pipeline and returns the admission decision.
// The request is annotated with resolved IP and geolocation as a side effect.
func (g *Gateway) Admit(ctx context.Context, req *Request) Decision {
	now := g.clk.Now()

	req.ResolvedIP = ClientIP(req.ForwardedFor, req.RemoteAddr)
	if g.geo != nil {
		if country, city, err := g.geo.Lookup(req.ResolvedIP); err == nil {
			req.Country, req.City = country, city
		}
	}

	// Blocklist. Lookup failure rejects: a request we cannot vet against the
	// blocklist does not get in.
	block, err := g.store.ActiveIPBlock(ctx, req.ResolvedIP, now)
	if err != nil {
		g.log.Error("blocklist lookup failed", "ip", req.ResolvedIP, "error", err)
		return g.reject(req, Decision{
			Code:        CodeIPBlocked,
			Message:     "request could not be verified against the blocklist",
			BlockReason: "blocklist unavailable",
		})
	}
	if block != nil {
		d := Decision{
			Code:           CodeIPBlocked,
			Message:        fmt.Sprintf("access denied: %s", block.Reason),
			BlockReason:    block.Reason,
			BlockPermanent: block.ExpiresAt == nil,
			RetryAfter:     block.RemainingBlockTime(now),
		}
		return g.reject(req, d)
	}

	d, rejected := g.checkRateLimits(ctx, req, now)
	if rejected {
		return g.reject(req, d)
	}
	return g.allowAfterScan(req, d)
}

// allowAfterScan runs the suspicion scan for a request that passed the
// blocklist and rate limiter, then finalizes the decision.
func (g *Gateway) allowAfterScan(req *Request, allow Decision) Decision {
	score, indicators := scoreRequest(req)
	if score > suspicionRefusal {
		return g.reject(req, Decision{
			Code:       CodeSuspicious,
			Message:    "request matched suspicious patterns",
			RiskScore:  score,
			Indicators: indicators,
		})
	}
	allow.Code = CodeAllow
	allow.RiskScore = score
	allow.Indicators = indicators
	metrics.AdmissionDecisionsTotal.WithLabelValues(string(CodeAllow)).Inc()
	return allow
}

// reject records metrics and the audit event for a rejection, then returns it.
func (g *Gateway) reject(req *Request, d Decision) Decision {
	metrics.AdmissionDecisionsTotal.WithLabelValues(string(d.Code)).Inc()
	if g.audit != nil {
		g.audit.Record(g.rejectionEvent(req, d))
	}
	return d
}

func (g *Gateway) rejectionEvent(req *Request, d Decision) *models.SecurityEvent {
	e := &models.SecurityEvent{
		IPAddress: req.ResolvedIP,
		UserAgent: req.UserAgent,
		Country:   req.Country,
		City:      req.City,
		CreatedAt: g.clk.Now(),
	}
	if req.UserID != "" {
		id := req.UserID
		e.UserID = &id
	}
	switch d.Code {
	case CodeIPBlocked:
		e.EventKind = models.EventIPBlocked
		e.Title = "Request from blocked IP"
		e.Description = d.BlockReason
	case CodeRateLimited:
		e.EventKind = models.EventRateLimitExceeded
		e.Title = "Rate limit exceeded"
		e.Description = fmt.Sprintf("rule %q: %d/%d requests", d.RuleName, d.CurrentRequests, d.MaxRequests)
	case CodeSuspicious:
		e.EventKind = models.EventSuspiciousActivity
		e.Title = "Suspicious request rejected"
		e.Description = fmt.Sprintf("risk score %d: %v", d.RiskScore, d.Indicators)
		e.Metadata = suspicionMetadata(req, d)
	default:
		e.EventKind = models.EventOther
		e.Title = "Request rejected"
	}
	e.Severity = models.DefaultSeverity(e.EventKind)
	return e
}
