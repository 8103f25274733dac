package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// WriteError is returned when flushing a table group still fails after all retries.
type WriteError struct {
	Table    string
	Attempts int
	Err      error
}

// Error implements error interface.
func (err *WriteError) Error() string {
	return fmt.Sprintf("scaling.importer: flush table %s failed after %d attempt(s): %s", err.Table, err.Attempts, err.Err)
}

// Cause returns the last flush error.
func (err *WriteError) Cause() error {
	return err.Err
}

// Unwrap returns the last flush error.
func (err *WriteError) Unwrap() error {
	return err.Err
}

// newBackOff returns an exponential backoff starting from unit, doubling each time without
// jitter and capped at max.
func newBackOff(unit, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = unit
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits d, returns false if interrupted by stop or ctx.
func (imp *Importer) sleep(ctx context.Context, d time.Duration) bool {
	if imp.sleepFn != nil {
		return imp.sleepFn(d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-imp.stopC:
		return false
	case <-ctx.Done():
		return false
	}
}

// withRetry runs fn at most retryTimes+1 times until success, sleeping between attempts.
func (imp *Importer) withRetry(ctx context.Context, table string, fn func() error) error {
	b := newBackOff(imp.retryUnit, imp.maxRetryInterval)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if imp.metrics != nil {
			imp.metrics.FailedFlushes.WithLabelValues(table).Inc()
		}

		if attempt > imp.retryTimes {
			return &WriteError{
				Table:    table,
				Attempts: attempt,
				Err:      err,
			}
		}
		if !imp.isRunning(ctx) {
			return errStopped
		}

		d := b.NextBackOff()
		imp.logger.Warn().Err(err).
			Str("table", table).
			Int("attempt", attempt).
			Dur("backoff", d).
			Msg("flush failed, retry later")
		if imp.metrics != nil {
			imp.metrics.Retries.WithLabelValues(table).Inc()
		}
		if !imp.sleep(ctx, d) {
			return errStopped
		}
	}
}
