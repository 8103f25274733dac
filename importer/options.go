package importer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// DefaultBatchSize is the default value of OptBatchSize.
	DefaultBatchSize = 1000
	// DefaultFetchTimeout is the default value of OptFetchTimeout.
	DefaultFetchTimeout = 3 * time.Second
	// DefaultRetryTimes is the default value of OptRetryTimes.
	DefaultRetryTimes = 3
	// DefaultRetryUnit is the default value of OptRetryUnit.
	DefaultRetryUnit = time.Second
	// DefaultMaxRetryInterval caps backoff between retries.
	DefaultMaxRetryInterval = 5 * time.Minute
)

// Option is used when creating Importer.
type Option func(*Importer) error

// OptLogger sets structured logger.
func OptLogger(logger *zerolog.Logger) Option {
	return func(imp *Importer) error {
		if logger == nil {
			imp.logger = zerolog.Nop()
			return nil
		}
		imp.logger = logger.With().Str("component", "scaling.importer.Importer").Logger()
		return nil
	}
}

// OptBatchSize sets batch size. Each fetch gets at most 2 * batchSize records.
func OptBatchSize(batchSize int) Option {
	return func(imp *Importer) error {
		if batchSize <= 0 {
			return fmt.Errorf("scaling.importer.Importer: BatchSize must >= 1")
		}
		imp.batchSize = batchSize
		return nil
	}
}

// OptFetchTimeout sets max wait time of each fetch.
func OptFetchTimeout(t time.Duration) Option {
	return func(imp *Importer) error {
		if t <= 0 {
			return fmt.Errorf("scaling.importer.Importer: FetchTimeout must > 0")
		}
		imp.fetchTimeout = t
		return nil
	}
}

// OptRetryTimes sets the number of extra attempts after a failed flush.
func OptRetryTimes(retryTimes int) Option {
	return func(imp *Importer) error {
		if retryTimes < 0 {
			return fmt.Errorf("scaling.importer.Importer: RetryTimes must >= 0")
		}
		imp.retryTimes = retryTimes
		return nil
	}
}

// OptRetryUnit sets the first backoff interval.
func OptRetryUnit(t time.Duration) Option {
	return func(imp *Importer) error {
		if t <= 0 {
			return fmt.Errorf("scaling.importer.Importer: RetryUnit must > 0")
		}
		imp.retryUnit = t
		return nil
	}
}

// OptSQLBuilder sets SQLBuilder, default MySQLBuilder{}.
func OptSQLBuilder(builder SQLBuilder) Option {
	return func(imp *Importer) error {
		imp.builder = builder
		return nil
	}
}

// OptRateLimiter sets RateLimiter.
func OptRateLimiter(rateLimiter RateLimiter) Option {
	return func(imp *Importer) error {
		imp.rateLimiter = rateLimiter
		return nil
	}
}

// OptProgressListener sets ProgressListener.
func OptProgressListener(listener ProgressListener) Option {
	return func(imp *Importer) error {
		imp.listener = listener
		return nil
	}
}

// OptMetrics sets metrics.
func OptMetrics(metrics *Metrics) Option {
	return func(imp *Importer) error {
		imp.metrics = metrics
		return nil
	}
}
