package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes bounded exponential backoff with jitter.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	RetryableErrors []error
	Logger          *zap.Logger

	// Sleep is replaced in tests; nil means a real timer.
	Sleep SleepFunc
	// Jitter returns a value in [0,1); nil means math/rand.
	Jitter func() float64
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying regardless of RetryableErrors.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Sleep == nil {
		p.Sleep = timerSleep
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

// Delay returns the un-jittered wait before attempt+1, attempt being 1-based.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(math.Min(float64(p.MaxDelay), d))
}

func Do(ctx context.Context, p Policy, operation func() error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation()
		if err == nil {
			if attempt > 1 {
				p.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !isRetryable(err, p.RetryableErrors) {
			p.Logger.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.addJitter(p.Delay(attempt))
		p.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
		)
		if err := p.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, p Policy, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func (p Policy) addJitter(d time.Duration) time.Duration {
	if p.JitterFraction <= 0 {
		return d
	}
	// symmetric around d
	offset := (p.Jitter()*2 - 1) * float64(d) * p.JitterFraction
	return time.Duration(float64(d) + offset)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
