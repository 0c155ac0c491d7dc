package alert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/repository"
)

type fakeAlertStore struct {
	mu            sync.Mutex
	rules         []*models.AlertRule
	alerts        []*models.SystemAlert
	notifications []*models.AlertNotification
	unresolved    *models.SystemAlert
	hourlyCount   int
	nextID        int
}

func (f *fakeAlertStore) ListAlertRules(ctx context.Context, onlyActive bool) ([]*models.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, nil
}

func (f *fakeAlertStore) LatestUnresolvedAlert(ctx context.Context, ruleID string) (*models.SystemAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unresolved, nil
}

func (f *fakeAlertStore) CountAlertsSince(ctx context.Context, ruleID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hourlyCount, nil
}

func (f *fakeAlertStore) CreateSystemAlert(ctx context.Context, a *models.SystemAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = fmt.Sprintf("alert-%d", f.nextID)
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlertStore) CreateAlertNotification(ctx context.Context, n *models.AlertNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	n.ID = fmt.Sprintf("notif-%d", f.nextID)
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeAlertStore) TransitionSystemAlert(ctx context.Context, id string, next models.SystemAlertStatus, actor string, at time.Time) (*models.SystemAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID != id {
			continue
		}
		if !a.CanTransition(next) {
			return nil, repository.ErrInvalidTransition
		}
		a.Status = next
		switch next {
		case models.AlertAcknowledged:
			a.AcknowledgedAt, a.AcknowledgedBy = &at, &actor
		case models.AlertResolved:
			a.ResolvedAt, a.ResolvedBy = &at, &actor
		}
		return a, nil
	}
	return nil, repository.ErrNotFound
}

type fakeProbe struct {
	cpu, mem, disk float64
	dbErr          error
	cacheErr       error
}

func (f *fakeProbe) CPUPercent() (float64, error)    { return f.cpu, nil }
func (f *fakeProbe) MemoryPercent() (float64, error) { return f.mem, nil }
func (f *fakeProbe) DiskPercent() (float64, error)   { return f.disk, nil }
func (f *fakeProbe) DBPing(ctx context.Context) error { return f.dbErr }
func (f *fakeProbe) CachePing() error                 { return f.cacheErr }

type fakeSignals struct {
	securityEvents int
	activeUsers    int
	errorRate      float64
}

func (f *fakeSignals) CountSecurityEvents(ctx context.Context, since time.Time) (int, error) {
	return f.securityEvents, nil
}
func (f *fakeSignals) CountActiveUsersSince(ctx context.Context, since time.Time) (int, error) {
	return f.activeUsers, nil
}
func (f *fakeSignals) ErrorLogRate(ctx context.Context, since time.Time) (float64, error) {
	return f.errorRate, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]*models.AlertNotification
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, alert *models.SystemAlert, kind models.AlertKind, notifications []*models.AlertNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, notifications)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (f *fakeAudit) Record(e *models.SecurityEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func cpuRule() *models.AlertRule {
	return &models.AlertRule{
		ID:               "rule-cpu",
		Name:             "high-cpu",
		AlertKind:        models.AlertCPU,
		Severity:         models.SeverityHigh,
		Status:           models.AlertRuleActive,
		ThresholdValue:   90,
		Comparison:       models.CompareGT,
		CheckIntervalSec: 60,
		CooldownSec:      300,
		MaxAlertsPerHour: 10,
		Channels: []models.NotificationChannel{
			{Type: models.ChannelEmail, Recipient: "ops@x"},
			{Type: models.ChannelSlack, Recipient: "https://hooks.slack/T/x"},
			{Type: models.ChannelWebhook, Recipient: "https://intake/x"},
		},
	}
}

func newTestEngine(store *fakeAlertStore, probe *fakeProbe) (*Engine, *fakeDispatcher, *fakeAudit, *clock.Fake) {
	dispatcher := &fakeDispatcher{}
	audit := &fakeAudit{}
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	sampler := NewSampler(probe, &fakeSignals{}, NewLatencyWindow(0))
	e := NewEngine(store, sampler, dispatcher, audit, nil, clk, nil, time.Second)
	return e, dispatcher, audit, clk
}

func TestEvaluateFiresAndFansOut(t *testing.T) {
	store := &fakeAlertStore{}
	e, dispatcher, _, _ := newTestEngine(store, &fakeProbe{cpu: 92.5})

	a, err := e.Evaluate(context.Background(), cpuRule())
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, "Alert high-cpu", a.Title)
	assert.Equal(t, models.AlertTriggered, a.Status)
	assert.Equal(t, 92.5, a.CurrentValue)
	assert.Equal(t, 90.0, a.ThresholdValue)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	for _, substr := range []string{"CPU Usage", "92.50", ">", "90.00", "high"} {
		assert.Contains(t, a.Message, substr)
	}

	require.Len(t, store.notifications, 3)
	for _, n := range store.notifications {
		assert.Equal(t, a.ID, n.AlertID)
		assert.Equal(t, models.NotifyPending, n.Status)
		assert.Equal(t, "Alert HIGH: Alert high-cpu", n.Subject)
		assert.Equal(t, a.Message, n.Message)
	}

	require.Len(t, dispatcher.batches, 1)
	assert.Len(t, dispatcher.batches[0], 3)
}

func TestEvaluateBelowThresholdDoesNotFire(t *testing.T) {
	store := &fakeAlertStore{}
	e, _, _, _ := newTestEngine(store, &fakeProbe{cpu: 45})

	a, err := e.Evaluate(context.Background(), cpuRule())
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Empty(t, store.alerts)
}

func TestEvaluateInactiveRuleNeverFires(t *testing.T) {
	store := &fakeAlertStore{}
	e, _, _, _ := newTestEngine(store, &fakeProbe{cpu: 99})

	rule := cpuRule()
	rule.Status = models.AlertRulePaused
	a, err := e.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCooldownSuppressesRefire(t *testing.T) {
	store := &fakeAlertStore{}
	e, _, _, clk := newTestEngine(store, &fakeProbe{cpu: 99})

	store.unresolved = &models.SystemAlert{
		ID:          "alert-old",
		Status:      models.AlertTriggered,
		TriggeredAt: clk.Now().Add(-10 * time.Second),
	}
	a, err := e.Evaluate(context.Background(), cpuRule())
	require.NoError(t, err)
	assert.Nil(t, a, "inside cooldown")

	clk.Advance(6 * time.Minute)
	a, err = e.Evaluate(context.Background(), cpuRule())
	require.NoError(t, err)
	assert.NotNil(t, a, "cooldown elapsed")
}

func TestHourlyCapSuppressesFire(t *testing.T) {
	store := &fakeAlertStore{hourlyCount: 10}
	e, _, _, _ := newTestEngine(store, &fakeProbe{cpu: 99})

	a, err := e.Evaluate(context.Background(), cpuRule())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestLifecycleTransitions(t *testing.T) {
	store := &fakeAlertStore{}
	e, _, audit, _ := newTestEngine(store, &fakeProbe{cpu: 99})
	ctx := context.Background()

	fired, err := e.Evaluate(ctx, cpuRule())
	require.NoError(t, err)

	acked, err := e.Acknowledge(ctx, fired.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "admin", *acked.AcknowledgedBy)

	// Acknowledging twice violates the lifecycle.
	_, err = e.Acknowledge(ctx, fired.ID, "admin")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	resolved, err := e.Resolve(ctx, fired.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)

	// Terminal states admit nothing further.
	_, err = e.Suppress(ctx, fired.ID, "admin")
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	var titles []string
	for _, ev := range audit.events {
		titles = append(titles, ev.Title)
	}
	assert.Contains(t, titles, "alert-acknowledged")
	assert.Contains(t, titles, "alert-resolved")
}

func TestDatabaseSignalScoresZeroWhenDown(t *testing.T) {
	store := &fakeAlertStore{}
	e, _, _, _ := newTestEngine(store, &fakeProbe{dbErr: assert.AnError})

	rule := cpuRule()
	rule.AlertKind = models.AlertDatabase
	rule.Comparison = models.CompareLT
	rule.ThresholdValue = 50

	a, err := e.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 0.0, a.CurrentValue)
}

func TestHealthScoreWeights(t *testing.T) {
	probe := &fakeProbe{cpu: 50, mem: 85, disk: 92}
	s := NewSampler(probe, &fakeSignals{}, NewLatencyWindow(0))

	// db 100*.30 + cache 100*.20 + disk 40*.20 + mem 60*.15 + cpu 100*.15
	assert.InDelta(t, 82.0, s.healthScore(context.Background()), 0.001)

	probe.dbErr = assert.AnError
	assert.InDelta(t, 52.0, s.healthScore(context.Background()), 0.001)
}

func TestCustomSamplerRegistry(t *testing.T) {
	s := NewSampler(&fakeProbe{}, &fakeSignals{}, NewLatencyWindow(0))
	rule := cpuRule()
	rule.AlertKind = models.AlertCustom
	rule.CustomSource = "queue-depth"

	_, err := s.Sample(context.Background(), rule, time.Now())
	assert.Error(t, err, "unregistered source")

	s.RegisterCustom("queue-depth", func(ctx context.Context) (float64, error) { return 42, nil })
	v, err := s.Sample(context.Background(), rule, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestLatencyWindowP95(t *testing.T) {
	w := NewLatencyWindow(5 * time.Minute)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, w.P95(now), "empty window")

	for i := 1; i <= 100; i++ {
		w.Observe(now, time.Duration(i)*time.Millisecond)
	}
	assert.InDelta(t, 95.0, w.P95(now), 1.0)

	// Everything falls out of the window after five minutes.
	assert.Equal(t, 0.0, w.P95(now.Add(6*time.Minute)))
}

func TestReconcileStartsAndStopsRunners(t *testing.T) {
	store := &fakeAlertStore{rules: []*models.AlertRule{cpuRule()}}
	e, _, _, _ := newTestEngine(store, &fakeProbe{cpu: 10})
	ctx := context.Background()

	e.reconcile(ctx)
	e.mu.Lock()
	assert.Len(t, e.runners, 1)
	e.mu.Unlock()

	store.mu.Lock()
	store.rules = nil
	store.mu.Unlock()
	e.reconcile(ctx)
	e.mu.Lock()
	assert.Empty(t, e.runners)
	e.mu.Unlock()
}
