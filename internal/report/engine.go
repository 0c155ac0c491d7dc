package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
	"github.com/admincore/admincore/internal/repository"
)

// Store is the persistence surface the engine consumes.
type Store interface {
	ListDueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduledReport, error)
	ListScheduledReports(ctx context.Context) ([]*models.ScheduledReport, error)
	AdvanceSchedule(ctx context.Context, id string, lastRun, nextRun time.Time) error
	GetReportTemplate(ctx context.Context, id string) (*models.ReportTemplate, error)
	CreateReportExecution(ctx context.Context, e *models.ReportExecution) error
	TransitionReportExecution(ctx context.Context, id string, next models.ReportExecutionStatus, update func(*models.ReportExecution)) (*models.ReportExecution, error)
	ListExpiredExecutions(ctx context.Context, scheduleID string, cutoff time.Time) ([]*models.ReportExecution, error)
	DeleteReportExecution(ctx context.Context, id string) error
}

// Engine scans for due schedules, runs executions under per-schedule leases,
// and sweeps expired artifacts.
type Engine struct {
	store   Store
	sources *Sources
	dir     string
	clk     clock.Clock
	log     *slog.Logger

	scanEvery  time.Duration
	sweepEvery time.Duration

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc // execution id -> cancel

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine builds the engine. scanEvery is clamped to at most a minute so
// due schedules never wait longer than that; sweepEvery paces the retention
// sweeper and defaults to an hour.
func NewEngine(store Store, sources *Sources, dir string, clk clock.Clock, log *slog.Logger, scanEvery, sweepEvery time.Duration) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	if scanEvery <= 0 || scanEvery > time.Minute {
		scanEvery = 30 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	return &Engine{
		store:      store,
		sources:    sources,
		dir:        dir,
		clk:        clk,
		log:        log,
		scanEvery:  scanEvery,
		sweepEvery: sweepEvery,
		inFlight:   make(map[string]context.CancelFunc),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the scan and retention loops.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Stop halts the loops; in-flight executions run to completion.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	scan := time.NewTicker(e.scanEvery)
	defer scan.Stop()
	sweep := time.NewTicker(e.sweepEvery)
	defer sweep.Stop()
	e.Scan(ctx)
	for {
		select {
		case <-scan.C:
			e.Scan(ctx)
		case <-sweep.C:
			e.Sweep(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Scan finds due schedules and starts an execution for each whose lease can
// be acquired. Executions for different schedules run concurrently.
func (e *Engine) Scan(ctx context.Context) {
	now := e.clk.Now()
	due, err := e.store.ListDueSchedules(ctx, now)
	if err != nil {
		e.log.Error("due-schedule scan failed", "error", err)
		return
	}
	for _, schedule := range due {
		exec := &models.ReportExecution{
			ScheduleID: schedule.ID,
			TemplateID: schedule.TemplateID,
			Status:     models.ExecutionPending,
		}
		// Creating the pending row is the lease: the partial unique index
		// admits one non-terminal execution per schedule.
		if err := e.store.CreateReportExecution(ctx, exec); err != nil {
			if errors.Is(err, repository.ErrExecutionInFlight) {
				continue
			}
			e.log.Error("execution create failed", "schedule", schedule.Name, "error", err)
			continue
		}
		schedule := schedule
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.execute(ctx, schedule, exec.ID)
		}()
	}
}

// Execute runs a schedule immediately under its lease, outside the scan
// cadence. A second execution while one is in flight is refused.
func (e *Engine) Execute(ctx context.Context, schedule *models.ScheduledReport) (*models.ReportExecution, error) {
	exec := &models.ReportExecution{
		ScheduleID: schedule.ID,
		TemplateID: schedule.TemplateID,
		Status:     models.ExecutionPending,
	}
	if err := e.store.CreateReportExecution(ctx, exec); err != nil {
		return nil, err
	}
	final := e.execute(ctx, schedule, exec.ID)
	if final == nil {
		return nil, fmt.Errorf("execution %s did not start", exec.ID)
	}
	return final, nil
}

// execute drives one execution pending -> running -> completed or failed,
// then advances the schedule. It returns the terminal execution row, or nil
// when the execution could not start.
func (e *Engine) execute(ctx context.Context, schedule *models.ScheduledReport, execID string) *models.ReportExecution {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.inFlight[execID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, execID)
		e.mu.Unlock()
	}()

	start := e.clk.Now()
	if _, err := e.store.TransitionReportExecution(ctx, execID, models.ExecutionRunning, func(x *models.ReportExecution) {
		x.StartedAt = &start
	}); err != nil {
		// Cancelled before it began, or the row vanished; nothing to run.
		e.log.Warn("execution could not start", "execution_id", execID, "error", err)
		return nil
	}

	path, size, count, runErr := e.run(runCtx, schedule, start)
	end := e.clk.Now()
	duration := end.Sub(start).Milliseconds()

	var final *models.ReportExecution
	if runErr != nil {
		var err error
		if final, err = e.store.TransitionReportExecution(ctx, execID, models.ExecutionFailed, func(x *models.ReportExecution) {
			x.EndedAt = &end
			x.DurationMs = duration
			x.ErrorMsg = runErr.Error()
		}); err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
			e.log.Error("execution fail-transition failed", "execution_id", execID, "error", err)
		}
		metrics.ReportExecutionsTotal.WithLabelValues(string(models.ExecutionFailed)).Inc()
		e.log.Error("report execution failed", "schedule", schedule.Name, "error", runErr)
	} else {
		var err error
		if final, err = e.store.TransitionReportExecution(ctx, execID, models.ExecutionCompleted, func(x *models.ReportExecution) {
			x.EndedAt = &end
			x.DurationMs = duration
			x.FilePath = path
			x.FileSize = size
			x.RecordCount = count
		}); err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
			e.log.Error("execution complete-transition failed", "execution_id", execID, "error", err)
		}
		metrics.ReportExecutionsTotal.WithLabelValues(string(models.ExecutionCompleted)).Inc()
		metrics.ReportDurationSeconds.Observe(float64(duration) / 1000)
		e.log.Info("report execution completed",
			"schedule", schedule.Name, "file", path, "records", count, "duration_ms", duration)
	}

	next, err := NextRun(schedule, start)
	if err != nil {
		e.log.Error("next-run computation failed", "schedule", schedule.Name, "error", err)
		return final
	}
	if err := e.store.AdvanceSchedule(ctx, schedule.ID, start, next); err != nil {
		e.log.Error("schedule advance failed", "schedule", schedule.Name, "error", err)
	}
	return final
}

func (e *Engine) run(ctx context.Context, schedule *models.ScheduledReport, start time.Time) (path string, size, count int64, err error) {
	tmpl, err := e.store.GetReportTemplate(ctx, schedule.TemplateID)
	if err != nil {
		return "", 0, 0, fmt.Errorf("load template: %w", err)
	}
	ds, err := e.sources.Collect(ctx, tmpl, start)
	if err != nil {
		return "", 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	path, size, err = WriteArtifact(e.dir, tmpl, ds, start)
	if err != nil {
		return "", 0, 0, err
	}
	return path, size, ds.RecordCount(), nil
}

// RunNow executes a template immediately, outside any schedule.
func (e *Engine) RunNow(ctx context.Context, templateID string) (*models.ReportExecution, error) {
	exec := &models.ReportExecution{
		TemplateID: templateID,
		Status:     models.ExecutionPending,
	}
	if err := e.store.CreateReportExecution(ctx, exec); err != nil {
		return nil, err
	}
	start := e.clk.Now()
	if _, err := e.store.TransitionReportExecution(ctx, exec.ID, models.ExecutionRunning, func(x *models.ReportExecution) {
		x.StartedAt = &start
	}); err != nil {
		return nil, err
	}

	tmpl, err := e.store.GetReportTemplate(ctx, templateID)
	var path string
	var size, count int64
	if err == nil {
		var ds *Dataset
		if ds, err = e.sources.Collect(ctx, tmpl, start); err == nil {
			if path, size, err = WriteArtifact(e.dir, tmpl, ds, start); err == nil {
				count = ds.RecordCount()
			}
		}
	}
	end := e.clk.Now()
	duration := end.Sub(start).Milliseconds()
	if err != nil {
		metrics.ReportExecutionsTotal.WithLabelValues(string(models.ExecutionFailed)).Inc()
		return e.store.TransitionReportExecution(ctx, exec.ID, models.ExecutionFailed, func(x *models.ReportExecution) {
			x.EndedAt = &end
			x.DurationMs = duration
			x.ErrorMsg = err.Error()
		})
	}
	metrics.ReportExecutionsTotal.WithLabelValues(string(models.ExecutionCompleted)).Inc()
	return e.store.TransitionReportExecution(ctx, exec.ID, models.ExecutionCompleted, func(x *models.ReportExecution) {
		x.EndedAt = &end
		x.DurationMs = duration
		x.FilePath = path
		x.FileSize = size
		x.RecordCount = count
	})
}

// Cancel terminates an execution by operator action. A pending or running
// execution transitions to cancelled with its end time recorded; an in-flight
// run is interrupted.
func (e *Engine) Cancel(ctx context.Context, execID string) (*models.ReportExecution, error) {
	end := e.clk.Now()
	exec, err := e.store.TransitionReportExecution(ctx, execID, models.ExecutionCancelled, func(x *models.ReportExecution) {
		x.EndedAt = &end
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if cancel, ok := e.inFlight[execID]; ok {
		cancel()
	}
	e.mu.Unlock()
	metrics.ReportExecutionsTotal.WithLabelValues(string(models.ExecutionCancelled)).Inc()
	return exec, nil
}

// Sweep removes executions (and their artifacts) older than each schedule's
// retention window.
func (e *Engine) Sweep(ctx context.Context) {
	now := e.clk.Now()
	schedules, err := e.store.ListScheduledReports(ctx)
	if err != nil {
		e.log.Error("retention scan failed", "error", err)
		return
	}
	for _, s := range schedules {
		if s.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -s.RetentionDays)
		expired, err := e.store.ListExpiredExecutions(ctx, s.ID, cutoff)
		if err != nil {
			e.log.Error("expired-execution listing failed", "schedule", s.Name, "error", err)
			continue
		}
		for _, x := range expired {
			if x.FilePath != "" {
				if err := os.Remove(x.FilePath); err != nil && !os.IsNotExist(err) {
					e.log.Warn("artifact removal failed", "file", x.FilePath, "error", err)
					continue
				}
			}
			if err := e.store.DeleteReportExecution(ctx, x.ID); err != nil {
				e.log.Error("execution delete failed", "execution_id", x.ID, "error", err)
			}
		}
	}
}

// NextRun advances a schedule's next-run time from the given instant.
// Calendar recurrences use fixed day counts.
func NextRun(s *models.ScheduledReport, from time.Time) (time.Time, error) {
	switch s.Recurrence {
	case models.RecurHourly:
		return from.Add(time.Hour), nil
	case models.RecurDaily:
		return from.Add(24 * time.Hour), nil
	case models.RecurWeekly:
		return from.Add(7 * 24 * time.Hour), nil
	case models.RecurMonthly:
		return from.Add(30 * 24 * time.Hour), nil
	case models.RecurQuarterly:
		return from.Add(90 * 24 * time.Hour), nil
	case models.RecurYearly:
		return from.Add(365 * 24 * time.Hour), nil
	case models.RecurCron:
		sched, err := cron.ParseStandard(s.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", s.CronExpression, err)
		}
		return sched.Next(from), nil
	}
	return time.Time{}, fmt.Errorf("unknown recurrence %q", s.Recurrence)
}
