package omniforge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SlidingWindowLimiter is a process-wide RateLimiter with one sliding window
// per (tenant, tool). The window that exceeds its budget denies with an
// ExhaustionError whose message carries a "try again in Ns" hint the
// executor's retry logic understands.
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	buckets  map[string][]time.Time
	perTool  map[string]int // tool-specific overrides
	now      func() time.Time
}

// LimiterOption configures a SlidingWindowLimiter.
type LimiterOption func(*SlidingWindowLimiter)

// WithToolLimit overrides the per-window budget for one tool.
func WithToolLimit(toolName string, limit int) LimiterOption {
	return func(l *SlidingWindowLimiter) { l.perTool[toolName] = limit }
}

// NewSlidingWindowLimiter allows limit calls per window for each
// (tenant, tool) pair.
func NewSlidingWindowLimiter(limit int, window time.Duration, opts ...LimiterOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		perTool: make(map[string]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ RateLimiter = (*SlidingWindowLimiter)(nil)

// CheckLimit records the call when the budget allows it, or denies without
// recording so denied calls never consume budget.
func (l *SlidingWindowLimiter) CheckLimit(ctx context.Context, tenantID, toolName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limit
	if override, ok := l.perTool[toolName]; ok {
		limit = override
	}
	if limit <= 0 {
		return nil
	}

	key := tenantID + "\x00" + toolName
	now := l.now()
	cutoff := now.Add(-l.window)

	win := l.buckets[key]
	kept := win[:0]
	for _, t := range win {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		retryIn := kept[0].Add(l.window).Sub(now)
		if retryIn < time.Second {
			retryIn = time.Second
		}
		l.buckets[key] = kept
		return &ExhaustionError{
			Resource: "rate_limit",
			Detail: fmt.Sprintf("tenant %s exceeded %d calls/%s for tool %s, try again in %ds",
				tenantID, limit, l.window, toolName, int(retryIn.Seconds())),
		}
	}

	l.buckets[key] = append(kept, now)
	return nil
}
