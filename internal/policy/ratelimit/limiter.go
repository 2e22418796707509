// Package ratelimit paces calls to the vendor site with a fixed minimum interval.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/bios-notifier/internal/metrics"
)

// Config holds pacer configuration.
type Config struct {
	// Interval is the minimum spacing between two remote calls. Zero disables pacing.
	Interval time.Duration
}

// Pacer spaces remote calls evenly. The first call proceeds immediately.
// One limiter is shared across hosts because every host belongs to the same vendor.
type Pacer struct {
	limiter *rate.Limiter
}

// New creates a Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call may proceed, respecting the context.
func (p *Pacer) Wait(ctx context.Context, url string) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(metrics.SanitizeHost(url), waited)
	}
	return nil
}
