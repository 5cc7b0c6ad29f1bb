package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Collector executes commands on a device and returns their raw output.
type Collector struct {
	dialer Dialer
	cfg    config.CollectorConfig
	logger *slog.Logger
}

// New constructs a Collector.
func New(dialer Dialer, cfg config.CollectorConfig, logger *slog.Logger) *Collector {
	logger = utils.Component(logger, "collector")
	if cfg.MaxConcurrentCommands <= 0 {
		cfg.MaxConcurrentCommands = 4
	}
	if cfg.Retries.Attempts <= 0 {
		cfg.Retries.Attempts = 1
	}
	if cfg.Retries.BaseDelay <= 0 {
		cfg.Retries.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retries.MaxDelay <= 0 {
		cfg.Retries.MaxDelay = 5 * time.Second
	}
	if cfg.Retries.Multiplier <= 1 {
		cfg.Retries.Multiplier = 2
	}
	return &Collector{dialer: dialer, cfg: cfg, logger: logger}
}

// Execute runs commands on device, at most MaxConcurrentCommands at a time. Outputs
// and per-command errors are both returned in the result; the error aggregates every
// failure. A connection failure marks every command as failed.
func (c *Collector) Execute(ctx context.Context, device models.Device, commands []string) (models.CollectResult, error) {
	result := models.CollectResult{
		Outputs: make(map[string]string, len(commands)),
		Errors:  make(map[string]string),
	}
	if len(commands) == 0 {
		return result, nil
	}

	client, err := c.connect(ctx, device)
	if err != nil {
		for _, cmd := range commands {
			result.Errors[cmd] = err.Error()
		}
		return result, err
	}
	defer client.Close()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
		sem  = semaphore.NewWeighted(int64(c.cfg.MaxConcurrentCommands))
	)
	record := func(cmd, output string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Errors[cmd] = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", cmd, err))
			return
		}
		result.Outputs[cmd] = output
	}

	for _, cmd := range commands {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(cmd, "", utils.WithKind(utils.KindTimeout, err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			out, err := c.run(ctx, client, cmd)
			record(cmd, out, err)
		}()
	}
	wg.Wait()

	if errs != nil {
		c.logger.Warn("collect incomplete",
			slog.String("device_id", device.ID),
			slog.Int("failed", len(result.Errors)),
			slog.Int("succeeded", len(result.Outputs)),
			slog.Any("error", errs))
	}
	return result, errs
}

// CheckReachable verifies that device accepts a connection.
func (c *Collector) CheckReachable(ctx context.Context, device models.Device) error {
	client, err := c.connect(ctx, device)
	if err != nil {
		return err
	}
	return client.Close()
}

func (c *Collector) connect(ctx context.Context, device models.Device) (Client, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.Retries.BaseDelay
	exp.MaxInterval = c.cfg.Retries.MaxDelay
	exp.Multiplier = c.cfg.Retries.Multiplier

	op := func() (Client, error) {
		dialCtx := ctx
		if c.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			defer cancel()
		}
		client, err := c.dialer.Dial(dialCtx, device)
		if errors.Is(err, ErrCredentials) {
			return nil, backoff.Permanent(err)
		}
		return client, err
	}
	client, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(c.cfg.Retries.Attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("retrying connection",
				slog.String("device_id", device.ID),
				slog.Duration("wait", wait),
				slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, utils.WithKind(utils.KindConnection, fmt.Errorf("device %s: %w", device.ID, err))
	}
	return client, nil
}

// run executes one command in its own session. The session is closed when ctx or the
// command timeout expires so a hung device cannot pin the worker.
func (c *Collector) run(ctx context.Context, client Client, cmd string) (string, error) {
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", utils.WithKind(utils.KindConnection, err)
	}
	defer sess.Close()

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return string(res.out), fmt.Errorf("command failed: %w", res.err)
		}
		return string(res.out), nil
	case <-ctx.Done():
		_ = sess.Close()
		return "", utils.WithKind(utils.KindTimeout, ctx.Err())
	}
}
