package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/admincore/admincore/internal/models"
)

// SignalProbe is the host-metric surface the sampler reads.
type SignalProbe interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	DiskPercent() (float64, error)
	DBPing(ctx context.Context) error
	CachePing() error
}

// SignalStore supplies the database-derived signals.
type SignalStore interface {
	CountSecurityEvents(ctx context.Context, since time.Time) (int, error)
	CountActiveUsersSince(ctx context.Context, since time.Time) (int, error)
	ErrorLogRate(ctx context.Context, since time.Time) (float64, error)
}

// CustomSampler produces the current value for a custom alert source tag.
type CustomSampler func(ctx context.Context) (float64, error)

// Sampler resolves an alert kind to its current signal value.
type Sampler struct {
	probe   SignalProbe
	store   SignalStore
	latency *LatencyWindow

	mu     sync.RWMutex
	custom map[string]CustomSampler
}

// NewSampler builds the signal sampler. latency receives API response times
// from the HTTP layer.
func NewSampler(probe SignalProbe, store SignalStore, latency *LatencyWindow) *Sampler {
	return &Sampler{
		probe:   probe,
		store:   store,
		latency: latency,
		custom:  make(map[string]CustomSampler),
	}
}

// RegisterCustom installs the sampler for a custom source tag.
func (s *Sampler) RegisterCustom(tag string, fn CustomSampler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[tag] = fn
}

// Sample returns the current value for the rule's signal at the given time.
func (s *Sampler) Sample(ctx context.Context, rule *models.AlertRule, now time.Time) (float64, error) {
	switch rule.AlertKind {
	case models.AlertCPU:
		return s.probe.CPUPercent()
	case models.AlertMemory:
		return s.probe.MemoryPercent()
	case models.AlertDisk:
		return s.probe.DiskPercent()
	case models.AlertDatabase:
		if err := s.probe.DBPing(ctx); err != nil {
			return 0, nil
		}
		return 100, nil
	case models.AlertSystem:
		return s.healthScore(ctx), nil
	case models.AlertAPI:
		return s.latency.P95(now), nil
	case models.AlertError:
		return s.store.ErrorLogRate(ctx, now.Add(-time.Hour))
	case models.AlertUser:
		n, err := s.store.CountActiveUsersSince(ctx, now.Add(-time.Hour))
		return float64(n), err
	case models.AlertSecurity:
		n, err := s.store.CountSecurityEvents(ctx, now.Add(-time.Hour))
		return float64(n), err
	case models.AlertCustom:
		s.mu.RLock()
		fn := s.custom[rule.CustomSource]
		s.mu.RUnlock()
		if fn == nil {
			return 0, fmt.Errorf("no sampler registered for custom source %q", rule.CustomSource)
		}
		return fn(ctx)
	}
	return 0, fmt.Errorf("unknown alert kind %q", rule.AlertKind)
}

// HealthScore is the weighted composite used by the system signal and the
// health endpoint: database 30%, cache 20%, disk 20%, memory 15%, cpu 15%.
func (s *Sampler) HealthScore(ctx context.Context) float64 {
	return s.healthScore(ctx)
}

// healthScore is the weighted mean of bucketed component scores.
func (s *Sampler) healthScore(ctx context.Context) float64 {
	db := 0.0
	if s.probe.DBPing(ctx) == nil {
		db = 100
	}
	cacheScore := 0.0
	if s.probe.CachePing() == nil {
		cacheScore = 100
	}
	disk := usageScore(s.probe.DiskPercent)
	mem := usageScore(s.probe.MemoryPercent)
	cpu := usageScore(s.probe.CPUPercent)
	return db*0.30 + cacheScore*0.20 + disk*0.20 + mem*0.15 + cpu*0.15
}

// usageScore buckets a utilization percentage into a health score. A probe
// read failure scores the component at zero.
func usageScore(read func() (float64, error)) float64 {
	pct, err := read()
	if err != nil {
		return 0
	}
	switch {
	case pct < 70:
		return 100
	case pct < 80:
		return 80
	case pct < 90:
		return 60
	case pct < 95:
		return 40
	default:
		return 20
	}
}

// LatencyWindow keeps a rolling window of API response times for the p95
// signal. Samples older than the window are dropped on read and write.
type LatencyWindow struct {
	window time.Duration

	mu      sync.Mutex
	samples []latencySample
}

type latencySample struct {
	at  time.Time
	dur time.Duration
}

// NewLatencyWindow creates a window; five minutes is the convention used by
// the api alert kind.
func NewLatencyWindow(window time.Duration) *LatencyWindow {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &LatencyWindow{window: window}
}

// Observe records one response time.
func (w *LatencyWindow) Observe(at time.Time, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(at)
	w.samples = append(w.samples, latencySample{at: at, dur: d})
}

// P95 returns the 95th-percentile response time in milliseconds over the
// window, zero when no samples exist.
func (w *LatencyWindow) P95(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(now)
	if len(w.samples) == 0 {
		return 0
	}
	durs := make([]time.Duration, len(w.samples))
	for i, s := range w.samples {
		durs[i] = s.dur
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })
	idx := (len(durs)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return float64(durs[idx]) / float64(time.Millisecond)
}

func (w *LatencyWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := w.samples[:0]
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	w.samples = keep
}
