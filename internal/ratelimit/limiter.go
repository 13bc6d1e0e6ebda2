package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter charges requests against a global budget and, optionally, a named endpoint bucket.
// Venues publish weights per endpoint; the global limiter absorbs the weight while a bucket
// counts one request.
type RateLimiter struct {
	global   *rate.Limiter
	buckets  sync.Map
	requests int
	period   time.Duration
	metrics  *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	waitedNanos     atomic.Int64
	bucketCount     atomic.Int32
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}

// New creates a RateLimiter allowing requests per period, with a burst of requests.
func New(requests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		global:   rate.NewLimiter(perSecond(requests, period), requests),
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
}

// Wait blocks until the global limiter allows one request or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.WaitN(ctx, "", 1)
}

// WaitBucket blocks until both the global limiter and the named bucket allow one request.
func (r *RateLimiter) WaitBucket(ctx context.Context, bucket string) error {
	return r.WaitN(ctx, bucket, 1)
}

// WaitN charges weight against the global limiter and one request against bucket.
// An empty bucket only charges the global limiter. Weights above the burst are clamped.
func (r *RateLimiter) WaitN(ctx context.Context, bucket string, weight int) error {
	r.metrics.totalRequests.Add(1)
	started := time.Now()
	defer func() { r.metrics.waitedNanos.Add(int64(time.Since(started))) }()

	if weight < 1 {
		weight = 1
	}
	if burst := r.global.Burst(); weight > burst {
		weight = burst
	}

	if err := r.global.WaitN(ctx, weight); err != nil {
		r.metrics.deniedRequests.Add(1)
		return fmt.Errorf("wait global limit: %w", err)
	}
	if bucket != "" {
		if err := r.getBucket(bucket).Wait(ctx); err != nil {
			r.metrics.deniedRequests.Add(1)
			return fmt.Errorf("wait bucket %s: %w", bucket, err)
		}
	}
	r.metrics.allowedRequests.Add(1)
	return nil
}

// Allow returns true if the global rate limiter permits a request immediately.
func (r *RateLimiter) Allow() bool {
	return r.record(r.global.Allow())
}

// AllowBucket returns true if the named bucket permits a request immediately.
// Buckets are created on-demand with the global rate.
func (r *RateLimiter) AllowBucket(bucket string) bool {
	return r.record(r.getBucket(bucket).Allow())
}

func (r *RateLimiter) record(allowed bool) bool {
	r.metrics.totalRequests.Add(1)
	if allowed {
		r.metrics.allowedRequests.Add(1)
	} else {
		r.metrics.deniedRequests.Add(1)
	}
	return allowed
}

func (r *RateLimiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := r.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(perSecond(r.requests, r.period), r.requests)
	actual, loaded := r.buckets.LoadOrStore(bucket, limiter)
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetLimit updates the global rate limit to the specified requests per period.
func (r *RateLimiter) SetLimit(requests int, period time.Duration) {
	r.global.SetLimit(perSecond(requests, period))
	r.global.SetBurst(requests)
}

// SetBucketLimit updates the rate limit for a specific bucket.
// The bucket is created if it does not exist.
func (r *RateLimiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	limiter := r.getBucket(bucket)
	limiter.SetLimit(perSecond(requests, period))
	limiter.SetBurst(requests)
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		Waited:          time.Duration(r.metrics.waitedNanos.Load()),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	// TotalRequests is the total number of rate limit checks performed.
	TotalRequests int64
	// AllowedRequests is the number of requests that were allowed.
	AllowedRequests int64
	// DeniedRequests is the number of requests that were denied.
	DeniedRequests int64
	// Waited is the cumulative time spent blocked in WaitN.
	Waited time.Duration
	// BucketCount is the number of rate limit buckets in use.
	BucketCount int32
}
