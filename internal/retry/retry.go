// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted wraps the last failure once every attempt has been used.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds the number and spacing of attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// DefaultPolicy allows three attempts spaced 1s then 2s, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      2,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based):
// min(base * factor^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Classifier reports whether a failure is transient.
type Classifier func(error) bool

// Dispatcher executes operations under a Policy. It holds no per-call state
// and is safe for concurrent use.
type Dispatcher struct {
	policy    Policy
	retryable Classifier
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// New creates a dispatcher. A nil classifier retries every error except
// context cancellation.
func New(log *slog.Logger, policy Policy, retryable Classifier) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if retryable == nil {
		retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &Dispatcher{
		policy:    policy.normalized(),
		retryable: retryable,
		sleep:     sleepContext,
		logger:    log.With(slog.String("service", "retry")),
	}
}

// Policy returns the effective policy.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts run out. Non-retryable errors are returned unwrapped.
func (d *Dispatcher) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !d.retryable(err) {
			return err
		}
		lastErr = err
		if attempt == d.policy.MaxAttempts {
			break
		}
		wait := d.policy.Delay(attempt)
		d.logger.Warn("operation retry",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
		if err := d.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, d.policy.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
