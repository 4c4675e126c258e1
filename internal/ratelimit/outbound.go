package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

// VendorConfig describes an upstream API quota.
type VendorConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BurstLimit        int
	Cooldown          time.Duration
}

const (
	vendorMaxAttempts = 5
	vendorBackoffBase = 500 * time.Millisecond
	vendorBackoffCap  = 30 * time.Second
)

// VendorThrottle paces outbound calls to a third-party market-data vendor.
// A token bucket covers the per-minute rate and burst; a sliding window
// covers the hourly quota. When the quota is exhausted the caller backs off
// exponentially for a bounded number of attempts and then proceeds anyway:
// fail-open, trading strict vendor-quota enforcement for availability of
// the data stream. Vendors enforce their own hard limits server-side.
type VendorThrottle struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	bucket  *rate.Limiter
	hourly  *windowStore
	cfg     VendorConfig
	name    string
	backoff time.Duration
}

// NewVendorThrottle creates a throttle for one named vendor.
func NewVendorThrottle(name string, cfg VendorConfig, clock clockwork.Clock) *VendorThrottle {
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &VendorThrottle{
		clock:  clock,
		bucket: rate.NewLimiter(perSecond, cfg.BurstLimit),
		hourly: newWindowStore(clock),
		cfg:    cfg,
		name:   name,
	}
}

// Wait blocks until a request slot is available or the retry budget is
// exhausted, in which case it returns nil anyway (fail-open). The only
// error returned is ctx cancellation.
func (v *VendorThrottle) Wait(ctx context.Context) error {
	for attempt := 0; attempt < vendorMaxAttempts; attempt++ {
		if v.tryAcquire() {
			return nil
		}

		metrics.RateLimitRejections.WithLabelValues("vendor").Inc()

		// Exponential backoff: base * 2^attempt, capped.
		backoff := vendorBackoffBase << attempt
		if backoff > vendorBackoffCap {
			backoff = vendorBackoffCap
		}
		slog.Debug("Vendor throttle backing off",
			"vendor", v.name,
			"attempt", attempt+1,
			"backoff", backoff,
		)

		timer := v.clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	slog.Warn("Vendor throttle failing open after max retries",
		"vendor", v.name,
		"attempts", vendorMaxAttempts,
	)
	metrics.VendorThrottleFailOpens.Inc()
	return nil
}

// Allow is the non-blocking variant of Wait.
func (v *VendorThrottle) Allow() bool {
	return v.tryAcquire()
}

func (v *VendorThrottle) tryAcquire() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	if !v.bucket.AllowN(now, 1) {
		return false
	}
	if v.cfg.RequestsPerHour > 0 && !v.hourly.allow(v.name, v.cfg.RequestsPerHour, time.Hour) {
		// Give the minute token back conceptually by treating this as a
		// rejection; the hourly window did not record the event.
		return false
	}
	return true
}
