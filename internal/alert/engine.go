// Package alert evaluates threshold rules against live system signals and
// drives the alert lifecycle. Each active rule runs on its own timer; two
// checks for the same rule never overlap, and late ticks are skipped.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
)

// Store is the persistence surface the engine consumes.
type Store interface {
	ListAlertRules(ctx context.Context, onlyActive bool) ([]*models.AlertRule, error)
	LatestUnresolvedAlert(ctx context.Context, ruleID string) (*models.SystemAlert, error)
	CountAlertsSince(ctx context.Context, ruleID string, since time.Time) (int, error)
	CreateSystemAlert(ctx context.Context, a *models.SystemAlert) error
	CreateAlertNotification(ctx context.Context, n *models.AlertNotification) error
	TransitionSystemAlert(ctx context.Context, id string, next models.SystemAlertStatus, actor string, at time.Time) (*models.SystemAlert, error)
}

// Dispatcher hands created notifications to their channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.SystemAlert, kind models.AlertKind, notifications []*models.AlertNotification)
}

// Recorder accepts audit events.
type Recorder interface {
	Record(e *models.SecurityEvent)
}

// Broadcaster pushes fired alerts to live listeners. Nil disables pushing.
type Broadcaster interface {
	BroadcastAlert(a *models.SystemAlert)
}

// Engine owns one evaluation timer per active rule and a reconcile loop that
// picks up rule changes.
type Engine struct {
	store      Store
	sampler    *Sampler
	dispatcher Dispatcher
	audit      Recorder
	broadcast  Broadcaster
	clk        clock.Clock
	log        *slog.Logger

	reconcileEvery time.Duration

	mu      sync.Mutex
	runners map[string]*runner
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

type runner struct {
	rule   *models.AlertRule
	stopCh chan struct{}
}

// NewEngine builds the engine. reconcileEvery bounds how long a rule change
// can go unnoticed; keep it at or under the smallest check interval plus 5s.
func NewEngine(store Store, sampler *Sampler, dispatcher Dispatcher, audit Recorder, broadcast Broadcaster, clk clock.Clock, log *slog.Logger, reconcileEvery time.Duration) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	if reconcileEvery <= 0 {
		reconcileEvery = 5 * time.Second
	}
	return &Engine{
		store:          store,
		sampler:        sampler,
		dispatcher:     dispatcher,
		audit:          audit,
		broadcast:      broadcast,
		clk:            clk,
		log:            log,
		reconcileEvery: reconcileEvery,
		runners:        make(map[string]*runner),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start launches the reconcile loop.
func (e *Engine) Start(ctx context.Context) {
	go e.reconcileLoop(ctx)
}

// Stop halts all rule timers and waits for in-flight evaluations to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
	e.mu.Lock()
	for id, r := range e.runners {
		close(r.stopCh)
		delete(e.runners, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer close(e.doneCh)
	e.reconcile(ctx)
	ticker := time.NewTicker(e.reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.reconcile(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reconcile diffs the active rule set against the running timers: new rules
// get a timer, changed rules get restarted, vanished rules get stopped.
func (e *Engine) reconcile(ctx context.Context) {
	rules, err := e.store.ListAlertRules(ctx, true)
	if err != nil {
		e.log.Error("alert rule listing failed", "error", err)
		return
	}
	active := make(map[string]*models.AlertRule, len(rules))
	for _, rule := range rules {
		active[rule.ID] = rule
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.runners {
		rule, ok := active[id]
		if ok && rule.UpdatedAt.Equal(r.rule.UpdatedAt) {
			continue
		}
		close(r.stopCh)
		delete(e.runners, id)
	}
	for id, rule := range active {
		if _, ok := e.runners[id]; ok {
			continue
		}
		r := &runner{rule: rule, stopCh: make(chan struct{})}
		e.runners[id] = r
		e.wg.Add(1)
		go e.run(ctx, r)
	}
}

// run is the per-rule timer loop. Evaluation happens inline, so two checks of
// the same rule cannot overlap; a tick that arrives during evaluation is
// drained and skipped rather than queued.
func (e *Engine) run(ctx context.Context, r *runner) {
	defer e.wg.Done()
	ticker := time.NewTicker(r.rule.CheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := e.Evaluate(ctx, r.rule); err != nil {
				e.log.Error("alert evaluation failed", "rule", r.rule.Name, "error", err)
			}
			select {
			case <-ticker.C: // coalesce the late tick
			default:
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate samples the rule's signal once and fires when the firing predicate
// holds: rule active, comparison true, cooldown elapsed, hourly cap not hit.
// It returns the created alert, or nil when the rule did not fire.
func (e *Engine) Evaluate(ctx context.Context, rule *models.AlertRule) (*models.SystemAlert, error) {
	if rule.Status != models.AlertRuleActive {
		return nil, nil
	}
	now := e.clk.Now()
	value, err := e.sampler.Sample(ctx, rule, now)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", rule.AlertKind, err)
	}
	if !rule.Comparison.Apply(value, rule.ThresholdValue) {
		return nil, nil
	}

	last, err := e.store.LatestUnresolvedAlert(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("cooldown lookup: %w", err)
	}
	if last != nil && now.Sub(last.TriggeredAt) < rule.Cooldown() {
		return nil, nil
	}

	if rule.MaxAlertsPerHour > 0 {
		n, err := e.store.CountAlertsSince(ctx, rule.ID, now.Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("hourly cap lookup: %w", err)
		}
		if n >= rule.MaxAlertsPerHour {
			return nil, nil
		}
	}

	return e.fire(ctx, rule, value, now)
}

// fire snapshots the rule onto a new alert, creates every notification row,
// and only then hands the batch to the dispatcher.
func (e *Engine) fire(ctx context.Context, rule *models.AlertRule, value float64, now time.Time) (*models.SystemAlert, error) {
	a := &models.SystemAlert{
		RuleID:         rule.ID,
		Title:          "Alert " + rule.Name,
		Message:        models.AlertMessage(rule, value),
		Status:         models.AlertTriggered,
		CurrentValue:   value,
		ThresholdValue: rule.ThresholdValue,
		Severity:       rule.Severity,
		TriggeredAt:    now,
	}
	if err := e.store.CreateSystemAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsFiredTotal.WithLabelValues(string(a.Severity)).Inc()
	e.log.Warn("alert fired", "rule", rule.Name, "kind", rule.AlertKind, "value", value, "threshold", rule.ThresholdValue)

	subject := fmt.Sprintf("Alert %s: %s", strings.ToUpper(string(a.Severity)), a.Title)
	notifications := make([]*models.AlertNotification, 0, len(rule.Channels))
	for _, ch := range rule.Channels {
		n := &models.AlertNotification{
			AlertID:   a.ID,
			Channel:   ch.Type,
			Recipient: ch.Recipient,
			Status:    models.NotifyPending,
			Subject:   subject,
			Message:   a.Message,
		}
		if err := e.store.CreateAlertNotification(ctx, n); err != nil {
			e.log.Error("notification row create failed", "alert_id", a.ID, "channel", ch.Type, "error", err)
			continue
		}
		notifications = append(notifications, n)
	}
	if e.broadcast != nil {
		e.broadcast.BroadcastAlert(a)
	}
	if e.dispatcher != nil && len(notifications) > 0 {
		e.dispatcher.Dispatch(ctx, a, rule.AlertKind, notifications)
	}
	return a, nil
}

// CheckAll evaluates every active rule once, outside its timer. Used by the
// manual check endpoint; returns the alerts that fired.
func (e *Engine) CheckAll(ctx context.Context) ([]*models.SystemAlert, error) {
	rules, err := e.store.ListAlertRules(ctx, true)
	if err != nil {
		return nil, err
	}
	var fired []*models.SystemAlert
	for _, rule := range rules {
		a, err := e.Evaluate(ctx, rule)
		if err != nil {
			e.log.Error("alert evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if a != nil {
			fired = append(fired, a)
		}
	}
	return fired, nil
}

// Acknowledge moves an alert from triggered to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (*models.SystemAlert, error) {
	a, err := e.store.TransitionSystemAlert(ctx, id, models.AlertAcknowledged, actor, e.clk.Now())
	if err != nil {
		return nil, err
	}
	e.recordLifecycle("alert-acknowledged", a, actor)
	return a, nil
}

// Resolve moves an alert to resolved from triggered or acknowledged.
func (e *Engine) Resolve(ctx context.Context, id, actor string) (*models.SystemAlert, error) {
	a, err := e.store.TransitionSystemAlert(ctx, id, models.AlertResolved, actor, e.clk.Now())
	if err != nil {
		return nil, err
	}
	e.recordLifecycle("alert-resolved", a, actor)
	return a, nil
}

// Suppress terminates an alert from any non-terminal state.
func (e *Engine) Suppress(ctx context.Context, id, actor string) (*models.SystemAlert, error) {
	a, err := e.store.TransitionSystemAlert(ctx, id, models.AlertSuppressed, actor, e.clk.Now())
	if err != nil {
		return nil, err
	}
	e.recordLifecycle("alert-suppressed", a, actor)
	return a, nil
}

func (e *Engine) recordLifecycle(action string, a *models.SystemAlert, actor string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(&models.SecurityEvent{
		EventKind:   models.EventOther,
		Severity:    models.DefaultSeverity(models.EventOther),
		Title:       action,
		Description: fmt.Sprintf("%s by %s on alert %s", action, actor, a.ID),
		CreatedAt:   e.clk.Now(),
	})
}
