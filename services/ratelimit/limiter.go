package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most maxCalls outbound calls per sliding window for a
// single provider. It keeps an ordered queue of admission timestamps and
// prunes expired entries lazily whenever capacity is checked. State is
// in-memory only and resets on restart.
type Limiter struct {
	provider string
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time
}

// Stats is a snapshot of limiter utilization
type Stats struct {
	Provider       string  `json:"provider"`
	CurrentCalls   int     `json:"current_calls"`
	AvailableCalls int     `json:"available_calls"`
	CallsPerMinute float64 `json:"calls_per_minute"`
}

// NewLimiter creates a limiter allowing maxCalls per window
func NewLimiter(provider string, maxCalls int, window time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		provider: provider,
		maxCalls: maxCalls,
		window:   window,
	}
}

// prune drops entries older than now minus the window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// tryAcquire attempts an immediate admission. On refusal it returns how
// long until the oldest entry leaves the window.
func (l *Limiter) tryAcquire(now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.calls) < l.maxCalls {
		l.calls = append(l.calls, now)
		return true, 0
	}
	return false, l.calls[0].Add(l.window).Sub(now)
}

// AcquireContext blocks until a slot is admitted or the context is done.
// Safe for concurrent callers; the combined admission rate across all
// goroutines never exceeds maxCalls per window.
func (l *Limiter) AcquireContext(ctx context.Context) error {
	for {
		ok, wait := l.tryAcquire(time.Now())
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Acquire blocks until a slot is available or timeout elapses. A timeout
// of zero or less blocks indefinitely. Returns false on timeout; callers
// should treat that as a transient condition, not a terminal failure.
func (l *Limiter) Acquire(timeout time.Duration) bool {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.AcquireContext(ctx) == nil
}

// GetStats returns a snapshot of current utilization
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(time.Now())
	current := len(l.calls)
	return Stats{
		Provider:       l.provider,
		CurrentCalls:   current,
		AvailableCalls: l.maxCalls - current,
		CallsPerMinute: float64(current) * float64(time.Minute) / float64(l.window),
	}
}

// Registry holds one shared limiter per provider. Limiters are created
// once at startup from config and shared across all workers.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register adds a limiter for a provider, replacing any existing one
func (r *Registry) Register(provider string, maxCalls int, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := NewLimiter(provider, maxCalls, window)
	r.limiters[provider] = l
	return l
}

// Get returns the limiter for a provider, or nil if none is registered
func (r *Registry) Get(provider string) *Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[provider]
}

// AllStats returns utilization snapshots for every registered limiter
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.limiters))
	for _, l := range r.limiters {
		stats = append(stats, l.GetStats())
	}
	return stats
}
