// Package audit ingests security events into the store. Writes are queued and
// retried off the request path; loss is acceptable but always logged.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
)

// EventWriter is the store side of the sink.
type EventWriter interface {
	CreateSecurityEvent(ctx context.Context, e *models.SecurityEvent) error
}

const (
	queueSize   = 1024
	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

// Sink buffers security events and persists them from a drain goroutine.
type Sink struct {
	repo   EventWriter
	log    *slog.Logger
	queue  chan *models.SecurityEvent
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSink creates a sink. Call Start before Record.
func NewSink(repo EventWriter, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		repo:   repo,
		log:    log,
		queue:  make(chan *models.SecurityEvent, queueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (s *Sink) Start(ctx context.Context) {
	go s.drain(ctx)
}

// Stop flushes queued events and stops the drain goroutine.
func (s *Sink) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Record enqueues an event. When the queue is full the event is dropped and
// the loss logged; admission must never block on auditing.
func (s *Sink) Record(e *models.SecurityEvent) {
	select {
	case s.queue <- e:
	default:
		metrics.AuditQueueDroppedTotal.Inc()
		s.log.Warn("audit queue full, event dropped", "event_kind", e.EventKind, "ip", e.IPAddress)
	}
}

// RecordSync writes an event directly, bypassing the queue. Used by callers
// that need the row visible before returning (tests, lifecycle handlers).
func (s *Sink) RecordSync(ctx context.Context, e *models.SecurityEvent) error {
	return s.repo.CreateSecurityEvent(ctx, e)
}

func (s *Sink) drain(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case e := <-s.queue:
			s.persist(ctx, e)
		case <-s.stopCh:
			// Flush what is already queued, then exit.
			for {
				select {
				case e := <-s.queue:
					s.persist(context.Background(), e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sink) persist(ctx context.Context, e *models.SecurityEvent) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = s.repo.CreateSecurityEvent(ctx, e); err == nil {
			return
		}
		select {
		case <-time.After(retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}
	metrics.AuditQueueDroppedTotal.Inc()
	s.log.Error("audit write failed, event lost", "event_kind", e.EventKind, "error", err)
}
