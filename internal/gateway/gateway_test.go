package gateway

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/admincore/internal/cache"
	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

type fakeStore struct {
	mu        sync.Mutex
	block     *models.IPBlock
	blockErr  error
	rules     []*models.APIRateLimit
	rulesErr  error
	created   []*models.IPBlock
	usageRows []*models.RateLimitUsage
}

func (f *fakeStore) ActiveIPBlock(ctx context.Context, ip string, now time.Time) (*models.IPBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	if f.block != nil && f.block.IPAddress == ip {
		return f.block, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateIPBlock(ctx context.Context, b *models.IPBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.created {
		if existing.IPAddress == b.IPAddress {
			return repository.ErrAlreadyBlocked
		}
	}
	f.created = append(f.created, b)
	return nil
}

func (f *fakeStore) ListActiveRateLimitRules(ctx context.Context) ([]*models.APIRateLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rulesErr != nil {
		return nil, f.rulesErr
	}
	return f.rules, nil
}

func (f *fakeStore) UpsertRateLimitUsage(ctx context.Context, u *models.RateLimitUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageRows = append(f.usageRows, u)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (f *fakeRecorder) Record(e *models.SecurityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRecorder) byKind(kind models.SecurityEventKind) []*models.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range f.events {
		if e.EventKind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestGateway(store *fakeStore) (*Gateway, *fakeRecorder, *clock.Fake) {
	rec := &fakeRecorder{}
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	g := New(store, cache.NewStore(), nil, rec, clk, nil, Options{})
	return g, rec, clk
}

func request(ip string) *Request {
	return &Request{
		Method:       "GET",
		Path:         "/api/things",
		Query:        url.Values{},
		UserAgent:    "Mozilla/5.0 integration test",
		ForwardedFor: ip,
	}
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "10.1.2.3", ClientIP("10.1.2.3, 172.16.0.1", ""))
	assert.Equal(t, "192.168.1.9", ClientIP("", "192.168.1.9:54321"))
	assert.Equal(t, "2001:db8::1", ClientIP("", "[2001:db8::1]:443"))
	assert.Equal(t, "127.0.0.1", ClientIP("not-an-ip", ""))
	assert.Equal(t, "127.0.0.1", ClientIP("", "garbage"))
}

func TestAdmitBlockedIP(t *testing.T) {
	expires := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	store := &fakeStore{block: &models.IPBlock{
		IPAddress: "10.0.0.5",
		BlockKind: models.BlockTemporary,
		Reason:    "abuse",
		ExpiresAt: &expires,
		Status:    models.BlockActive,
	}}
	g, rec, _ := newTestGateway(store)

	d := g.Admit(context.Background(), request("10.0.0.5"))

	assert.Equal(t, CodeIPBlocked, d.Code)
	assert.Equal(t, 403, d.HTTPStatus())
	assert.Equal(t, 30*time.Minute, d.RetryAfter)
	assert.False(t, d.BlockPermanent)
	require.Len(t, rec.byKind(models.EventIPBlocked), 1)
}

func TestAdmitBlocklistLookupFailureRejects(t *testing.T) {
	store := &fakeStore{blockErr: assert.AnError}
	g, _, _ := newTestGateway(store)

	d := g.Admit(context.Background(), request("10.0.0.5"))

	assert.Equal(t, CodeIPBlocked, d.Code)
	assert.Equal(t, "blocklist unavailable", d.BlockReason)
}

func TestRateLimitMinuteWindow(t *testing.T) {
	store := &fakeStore{rules: []*models.APIRateLimit{{
		ID:                "rule-1",
		Name:              "global-default",
		Scope:             models.ScopeGlobal,
		RequestsPerMinute: 3,
		Active:            true,
	}}}
	g, rec, _ := newTestGateway(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := g.Admit(ctx, request("10.0.0.9"))
		require.Equal(t, CodeAllow, d.Code, "request %d should pass", i+1)
		assert.Equal(t, int64(3-(i+1)), d.Remaining)
		assert.Equal(t, "global-default", d.RuleName)
	}

	d := g.Admit(ctx, request("10.0.0.9"))
	assert.Equal(t, CodeRateLimited, d.Code)
	assert.Equal(t, 429, d.HTTPStatus())
	assert.Equal(t, int64(4), d.CurrentRequests)
	assert.Equal(t, int64(3), d.MaxRequests)
	assert.Equal(t, "global-default", d.RuleName)

	// Rejected requests do not grow the counter: the reported count stays
	// stable however many more arrive.
	d = g.Admit(ctx, request("10.0.0.9"))
	assert.Equal(t, CodeRateLimited, d.Code)
	assert.Equal(t, int64(4), d.CurrentRequests)

	assert.Len(t, rec.byKind(models.EventRateLimitExceeded), 2)
}

func TestRateLimitResetTime(t *testing.T) {
	store := &fakeStore{rules: []*models.APIRateLimit{{
		ID:                "rule-1",
		Name:              "tight",
		Scope:             models.ScopeGlobal,
		RequestsPerMinute: 1,
		Active:            true,
	}}}
	g, _, clk := newTestGateway(store)
	ctx := context.Background()

	g.Admit(ctx, request("10.0.0.9"))
	d := g.Admit(ctx, request("10.0.0.9"))
	require.Equal(t, CodeRateLimited, d.Code)
	assert.Equal(t, clk.Now().Truncate(time.Minute).Add(time.Minute), d.ResetTime)
}

func TestRateLimitScopePartitioning(t *testing.T) {
	store := &fakeStore{rules: []*models.APIRateLimit{{
		ID:                "rule-ip",
		Name:              "per-ip",
		Scope:             models.ScopeIP,
		Target:            "10.0.0.1",
		RequestsPerMinute: 1,
		Active:            true,
	}}}
	g, _, _ := newTestGateway(store)
	ctx := context.Background()

	require.Equal(t, CodeAllow, g.Admit(ctx, request("10.0.0.1")).Code)
	assert.Equal(t, CodeRateLimited, g.Admit(ctx, request("10.0.0.1")).Code)
	// Other IPs do not match the rule at all.
	assert.Equal(t, CodeAllow, g.Admit(ctx, request("10.0.0.2")).Code)
}

func TestRateLimitRuleListingFailureAdmits(t *testing.T) {
	store := &fakeStore{rulesErr: assert.AnError}
	g, _, _ := newTestGateway(store)

	d := g.Admit(context.Background(), request("10.0.0.9"))
	assert.Equal(t, CodeAllow, d.Code)
}

func TestSuspiciousRequestRejected(t *testing.T) {
	store := &fakeStore{}
	g, rec, _ := newTestGateway(store)

	req := request("10.0.0.7")
	req.UserAgent = ""
	req.Path = "/search"
	req.Query = url.Values{
		"q":  {"<script>alert(1)</script>"},
		"id": {"1 UNION SELECT 1"},
	}

	d := g.Admit(context.Background(), req)

	require.Equal(t, CodeSuspicious, d.Code)
	assert.Equal(t, 403, d.HTTPStatus())
	assert.GreaterOrEqual(t, d.RiskScore, 50)
	assert.Contains(t, d.Indicators, "missing user-agent")
	assert.Contains(t, d.Indicators, "possible xss in query q")
	assert.Contains(t, d.Indicators, "possible sql injection in query id")

	events := rec.byKind(models.EventSuspiciousActivity)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
}

func TestSubThresholdScorePassesWithIndicators(t *testing.T) {
	g, _, _ := newTestGateway(&fakeStore{})

	req := request("10.0.0.7")
	req.UserAgent = "curl/8.0"

	d := g.Admit(context.Background(), req)

	assert.Equal(t, CodeAllow, d.Code)
	assert.Equal(t, scoreShortUserAgent, d.RiskScore)
	assert.Contains(t, d.Indicators, "short user-agent")
}

func TestSQLKeywordWordBoundary(t *testing.T) {
	assert.True(t, containsSQLKeyword("1 union select 1"))
	assert.True(t, containsSQLKeyword("drop"))
	assert.False(t, containsSQLKeyword("newsletter subscription"))
	assert.False(t, containsSQLKeyword("created_at"))
}

func TestObserveEscalatesToAutomaticBlock(t *testing.T) {
	store := &fakeStore{}
	g, rec, _ := newTestGateway(store)
	ctx := context.Background()

	req := request("10.0.0.3")
	req.Email = "victim@example.com"
	g.Admit(ctx, req)

	for i := 0; i < 4; i++ {
		g.Observe(ctx, req, 401)
	}
	assert.Empty(t, store.created, "below threshold, no block yet")

	g.Observe(ctx, req, 401)
	require.Len(t, store.created, 1)
	block := store.created[0]
	assert.Equal(t, "10.0.0.3", block.IPAddress)
	assert.Equal(t, models.BlockAutomatic, block.BlockKind)
	require.NotNil(t, block.DurationMinutes)
	assert.Equal(t, 60, *block.DurationMinutes)
	require.Len(t, rec.byKind(models.EventIPBlocked), 1)

	// Further failures are a no-op while the block stands.
	g.Observe(ctx, req, 403)
	assert.Len(t, store.created, 1)
	assert.Len(t, rec.byKind(models.EventIPBlocked), 1)
}

func TestObserveIgnoresNonAuthFailures(t *testing.T) {
	store := &fakeStore{}
	g, _, _ := newTestGateway(store)
	req := request("10.0.0.3")
	g.Admit(context.Background(), req)

	for i := 0; i < 10; i++ {
		g.Observe(context.Background(), req, 500)
	}
	assert.Empty(t, store.created)
}
