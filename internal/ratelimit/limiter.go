// Package ratelimit provides per-key token bucket rate limiting for MCP tools.
//
// Simulations are CPU bound and a single pathsim_simulate call may draw
// millions of candidate circuits, so each tool gets its own budget.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is wrapped by CheckLimit when a tool is over its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter keeps one rate.Limiter per key, created on first use with a full
// burst. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	nowFunc func() time.Time
}

// NewLimiter creates a limiter refilling perSecond tokens per second up to burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		nowFunc: time.Now,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a request for key may proceed, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).AllowN(l.nowFunc(), 1)
}

// Tokens reports the tokens currently left for key without consuming one.
func (l *Limiter) Tokens(key string) float64 {
	return l.bucket(key).TokensAt(l.nowFunc())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	return l.burst
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default set of per-tool rate limiters.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"pathsim_simulate": NewLimiter(6.0/60.0, 2), // 6/minute, burst 2
		"pathsim_weights":  NewLimiter(1.0, 10),     // 60/minute, burst 10
		"pathsim_runs":     NewLimiter(1.0, 10),     // 60/minute, burst 10
	}
}

// CheckLimit checks the rate limit for a given tool name.
// Returns nil if allowed, or an error wrapping ErrRateLimited.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow(toolName) {
		return fmt.Errorf("%s: %w, please try again shortly", toolName, ErrRateLimited)
	}
	return nil
}
