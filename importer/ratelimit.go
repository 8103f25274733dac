package importer

import (
	"github.com/juju/ratelimit"

	"github.com/huangjunwen/scaling/record"
)

// RateLimiter throttles writes.
type RateLimiter interface {
	// Intercept blocks until an operation of weight is allowed.
	Intercept(typ record.Type, weight int64)
}

// BucketRateLimiter is a token bucket RateLimiter shared by all operation types.
type BucketRateLimiter struct {
	bucket *ratelimit.Bucket
}

var (
	_ RateLimiter = (*BucketRateLimiter)(nil)
)

// NewBucketRateLimiter creates a BucketRateLimiter allowing rate operations per second
// with burst capacity.
func NewBucketRateLimiter(rate float64, capacity int64) *BucketRateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &BucketRateLimiter{
		bucket: ratelimit.NewBucketWithRate(rate, capacity),
	}
}

// Intercept implements RateLimiter interface.
func (l *BucketRateLimiter) Intercept(typ record.Type, weight int64) {
	l.bucket.Wait(weight)
}
