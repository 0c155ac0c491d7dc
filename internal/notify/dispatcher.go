// Package notify delivers alert notifications over their configured channels.
// Deliveries for distinct notifications run in parallel and fail independently;
// transient failures retry with exponential backoff and the retry counter is
// persisted on the notification row.
package notify

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/admincore/admincore/internal/clock"
	"github.com/admincore/admincore/internal/models"
	"github.com/admincore/admincore/internal/pkg/metrics"
)

// StatusStore persists notification delivery state.
type StatusStore interface {
	UpdateAlertNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, sentAt *time.Time, errMsg string, retryCount int) error
}

// Sender delivers one notification over one channel.
type Sender interface {
	Send(ctx context.Context, n *models.AlertNotification, alert *models.SystemAlert, kind models.AlertKind) error
}

// Options tunes retry and pacing behavior.
type Options struct {
	MaxRetries int           // delivery attempts per notification beyond the first
	BaseDelay  time.Duration // first backoff step
	RatePerSec float64       // outbound pacing across all channels
}

func (o *Options) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 10
	}
}

// Dispatcher fans notifications out to channel senders.
type Dispatcher struct {
	store   StatusStore
	senders map[models.ChannelKind]Sender
	limiter *rate.Limiter
	clk     clock.Clock
	log     *slog.Logger
	opts    Options
}

// NewDispatcher builds a dispatcher with the default channel senders
// registered. smtp may be nil; email then logs instead of sending.
func NewDispatcher(store StatusStore, smtp *SMTPConfig, clk clock.Clock, log *slog.Logger, opts Options) *Dispatcher {
	opts.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		store:   store,
		senders: make(map[models.ChannelKind]Sender),
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)),
		clk:     clk,
		log:     log,
		opts:    opts,
	}
	client := newHTTPClient()
	d.Register(models.ChannelWebhook, &httpSender{client: client, build: webhookPayload})
	d.Register(models.ChannelSlack, &httpSender{client: client, build: slackPayload})
	d.Register(models.ChannelTeams, &httpSender{client: client, build: teamsPayload})
	d.Register(models.ChannelDiscord, &httpSender{client: client, build: discordPayload})
	d.Register(models.ChannelEmail, &emailSender{cfg: smtp, log: log})
	d.Register(models.ChannelSMS, &smsSender{log: log})
	return d
}

// Register installs (or replaces) the sender for a channel kind.
func (d *Dispatcher) Register(kind models.ChannelKind, s Sender) {
	d.senders[kind] = s
}

// Dispatch delivers every notification of one alert and blocks until all of
// them settle. Each notification succeeds or fails on its own; one channel's
// failure never touches another row's status.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.SystemAlert, kind models.AlertKind, notifications []*models.AlertNotification) {
	var g errgroup.Group
	for _, n := range notifications {
		n := n
		g.Go(func() error {
			d.deliver(ctx, alert, kind, n)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, alert *models.SystemAlert, kind models.AlertKind, n *models.AlertNotification) {
	sender, ok := d.senders[n.Channel]
	if !ok {
		d.settle(ctx, n, models.NotifyFailed, "no sender registered for channel "+string(n.Channel))
		return
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			n.RetryCount = attempt
			if err := d.store.UpdateAlertNotificationStatus(ctx, n.ID, models.NotifyPending, nil, lastErr.Error(), n.RetryCount); err != nil {
				d.log.Warn("notification retry-count write failed", "notification_id", n.ID, "error", err)
			}
			select {
			case <-time.After(backoff(d.opts.BaseDelay, attempt)):
			case <-ctx.Done():
				d.settle(ctx, n, models.NotifyFailed, ctx.Err().Error())
				return
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			d.settle(ctx, n, models.NotifyFailed, err.Error())
			return
		}
		if lastErr = sender.Send(ctx, n, alert, kind); lastErr == nil {
			d.settle(ctx, n, models.NotifySent, "")
			return
		}
		d.log.Warn("notification delivery failed",
			"notification_id", n.ID, "channel", n.Channel, "attempt", attempt+1, "error", lastErr)
	}
	d.settle(ctx, n, models.NotifyFailed, lastErr.Error())
}

// settle records the terminal delivery state of a notification.
func (d *Dispatcher) settle(ctx context.Context, n *models.AlertNotification, status models.NotificationStatus, errMsg string) {
	n.Status = status
	n.ErrorMsg = errMsg
	var sentAt *time.Time
	if status == models.NotifySent {
		t := d.clk.Now()
		n.SentAt = &t
		sentAt = &t
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Channel), string(status)).Inc()
	if err := d.store.UpdateAlertNotificationStatus(ctx, n.ID, status, sentAt, errMsg, n.RetryCount); err != nil {
		d.log.Error("notification status write failed", "notification_id", n.ID, "error", err)
	}
}

// backoff returns the exponential delay for the given attempt with jitter, so
// herds of retries against a recovering endpoint spread out.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if half := int64(base / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}
