package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Notifier sends one notification to a contact group over one channel.
type Notifier interface {
	Send(ctx context.Context, contactGroup, channel string, payload models.Notification) (bool, error)
}

// ErrNotDelivered is returned when a channel accepted the call but reported no delivery.
var ErrNotDelivered = errors.New("channel reported notification not delivered")

// DeliveryResult is the outcome of delivering one alert to all of its channels.
type DeliveryResult struct {
	Status   models.DeliveryStatus
	Attempts int
	Err      error
}

// Deliverer retries each channel with exponential backoff and rate-limits per channel.
type Deliverer struct {
	notifier Notifier
	retry    config.RetryConfig
	timeout  time.Duration
	rates    map[string]float64
	burst    int
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDeliverer constructs a Deliverer. A nil notifier marks every delivery as skipped.
func NewDeliverer(notifier Notifier, cfg config.DeliveryConfig, logger *slog.Logger) *Deliverer {
	logger = utils.Component(logger, "delivery")
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = time.Minute
	}
	if cfg.Retry.Multiplier <= 1 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Deliverer{
		notifier: notifier,
		retry:    cfg.Retry,
		timeout:  cfg.Timeout,
		rates:    cfg.RatePerSecond,
		burst:    cfg.Burst,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Deliver sends alert on every routed channel. The alert counts as delivered when at
// least one channel succeeded; every channel failure is reported in Err.
func (d *Deliverer) Deliver(ctx context.Context, alert models.Alert) DeliveryResult {
	if d == nil || d.notifier == nil || len(alert.Routing.Channels) == 0 {
		return DeliveryResult{Status: models.DeliverySkipped}
	}
	payload := models.NotificationFor(alert)

	var (
		attempts  int
		delivered bool
		errs      error
	)
	for _, channel := range alert.Routing.Channels {
		n, err := d.sendWithRetry(ctx, alert.Routing.ContactGroup, channel, payload)
		attempts += n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", channel, err))
			metrics.IncDelivery(channel, metrics.OutcomeFailed)
			continue
		}
		delivered = true
		metrics.IncDelivery(channel, metrics.OutcomeDelivered)
	}

	res := DeliveryResult{Attempts: attempts, Err: utils.WithKind(utils.KindDelivery, errs)}
	if delivered {
		res.Status = models.DeliveryDelivered
	} else {
		res.Status = models.DeliveryFailed
	}
	if errs != nil {
		d.logger.Warn("alert delivery incomplete",
			slog.String("alert_id", alert.ID),
			slog.String("status", string(res.Status)),
			slog.Int("attempts", attempts),
			slog.Any("error", errs))
	}
	return res
}

func (d *Deliverer) sendWithRetry(ctx context.Context, group, channel string, payload models.Notification) (int, error) {
	attempts := 0
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.retry.BaseDelay
	exp.MaxInterval = d.retry.MaxDelay
	exp.Multiplier = d.retry.Multiplier

	op := func() (bool, error) {
		if err := d.limiter(channel).Wait(ctx); err != nil {
			return false, backoff.Permanent(err)
		}
		attempts++
		sendCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		ok, err := d.notifier.Send(sendCtx, group, channel, payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, ErrNotDelivered
		}
		return true, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(d.retry.Attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.IncDelivery(channel, metrics.OutcomeRetried)
			d.logger.Debug("retrying delivery",
				slog.String("channel", channel),
				slog.Duration("wait", wait),
				slog.Any("error", err))
		}),
	)
	return attempts, err
}

func (d *Deliverer) limiter(channel string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.limiters[channel]; ok {
		return l
	}
	limit := rate.Inf
	if r, ok := d.rates[channel]; ok && r > 0 {
		limit = rate.Limit(r)
	}
	l := rate.NewLimiter(limit, d.burst)
	d.limiters[channel] = l
	return l
}
