package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/mailguard/pkg/metrics"
)

// Class names an operation class with its own policy.
type Class string

const (
	// ClassSend limits notification sends per client fingerprint.
	ClassSend Class = "send"
	// ClassConfigChange limits mail configuration changes per client fingerprint.
	ClassConfigChange Class = "config-change"
	// ClassSendGlobal is an optional process-wide cap on sends, keyed by GlobalKey.
	ClassSendGlobal Class = "send-global"
	// ClassAPI is a coarse per-IP limit applied by the HTTP middleware.
	ClassAPI Class = "api"
)

// GlobalKey is the key used with ClassSendGlobal.
const GlobalKey = "*"

// Reason explains a denial.
type Reason string

const (
	ReasonWindowExceeded Reason = "window-exceeded"
	ReasonMinInterval    Reason = "min-interval"
	ReasonUnknownClass   Reason = "unknown-class"
)

// Policy bounds the attempts of one class and key.
type Policy struct {
	// Limit is the maximum number of allowed attempts per window
	Limit int
	// Window is anchored at the first attempt and resets once it elapses
	Window time.Duration
	// MinInterval is the minimum spacing between allowed attempts. Zero disables it.
	MinInterval time.Duration
}

// Config holds rate limiter configuration
type Config struct {
	// Policies maps each known class to its policy. Classes missing here are denied.
	Policies map[Class]Policy
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access. It is raised to the
	// longest window so a sweep can never reset a running window.
	MaxAge time.Duration
}

// DefaultConfig returns the default policies:
// send: 50 per hour with at least 60s between sends;
// config-change: 10 per hour;
// api: 300 requests per minute per client IP.
// The global send policy is disabled by default.
func DefaultConfig() Config {
	return Config{
		Policies: map[Class]Policy{
			ClassSend:         {Limit: 50, Window: time.Hour, MinInterval: time.Minute},
			ClassConfigChange: {Limit: 10, Window: time.Hour},
			ClassAPI:          {Limit: 300, Window: time.Minute},
		},
		CleanupInterval: time.Minute,
		MaxAge:          time.Hour,
	}
}

// Decision is the result of CheckAndConsume.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     Reason
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type entryKey struct {
	class Class
	key   string
}

// entry holds the window state and interval limiter for one class and key
type entry struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	lastAccess  time.Time
	interval    *rate.Limiter
	removed     bool
}

// Limiter enforces per-class, per-key policies. Each key has its own mutex;
// the map lock is only held for lookup and insert.
type Limiter struct {
	mu       sync.RWMutex
	entries  map[entryKey]*entry
	config   Config
	clock    clock.PassiveClock
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a new limiter with the given configuration and starts the
// cleanup goroutine.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	for _, p := range cfg.Policies {
		if p.Window > cfg.MaxAge {
			cfg.MaxAge = p.Window
		}
		if p.MinInterval > cfg.MaxAge {
			cfg.MaxAge = p.MinInterval
		}
	}

	l := &Limiter{
		entries: make(map[entryKey]*entry),
		config:  cfg,
		clock:   clock.RealClock{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.cleanup()

	return l
}

// CheckAndConsume decides whether an attempt of class by key may proceed and,
// if so, records it. Denied attempts consume nothing.
func (l *Limiter) CheckAndConsume(class Class, key string) Decision {
	policy, ok := l.config.Policies[class]
	if !ok || policy.Limit <= 0 || policy.Window <= 0 {
		metrics.RateLimitDenials.WithLabelValues(string(class), string(ReasonUnknownClass)).Inc()
		return Decision{Reason: ReasonUnknownClass}
	}

	for {
		e := l.getOrCreate(entryKey{class: class, key: key}, policy)
		e.mu.Lock()
		if e.removed {
			// swept between lookup and lock, retry with a fresh entry
			e.mu.Unlock()
			continue
		}
		d := e.consume(l.clock.Now(), policy)
		e.mu.Unlock()

		if d.Allowed {
			metrics.RateLimitDecisions.WithLabelValues(string(class), "allowed").Inc()
		} else {
			metrics.RateLimitDecisions.WithLabelValues(string(class), "denied").Inc()
			metrics.RateLimitDenials.WithLabelValues(string(class), string(d.Reason)).Inc()
		}
		return d
	}
}

func (l *Limiter) getOrCreate(k entryKey, p Policy) *entry {
	l.mu.RLock()
	e, exists := l.entries[k]
	l.mu.RUnlock()
	if exists {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, exists = l.entries[k]; exists {
		return e
	}
	e = &entry{}
	if p.MinInterval > 0 {
		e.interval = rate.NewLimiter(rate.Every(p.MinInterval), 1)
	}
	l.entries[k] = e
	return e
}

// consume must be called with e.mu held.
func (e *entry) consume(now time.Time, p Policy) Decision {
	e.lastAccess = now
	if e.windowStart.IsZero() || !now.Before(e.windowStart.Add(p.Window)) {
		e.windowStart = now
		e.count = 0
	}

	if e.count >= p.Limit {
		return Decision{
			RetryAfter: e.windowStart.Add(p.Window).Sub(now),
			Reason:     ReasonWindowExceeded,
		}
	}

	if e.interval != nil {
		r := e.interval.ReserveN(now, 1)
		if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
			r.CancelAt(now)
			return Decision{RetryAfter: delay, Reason: ReasonMinInterval}
		}
	}

	e.count++
	return Decision{Allowed: true}
}

// Middleware returns a Gin middleware that applies the given class per client IP.
func (l *Limiter) Middleware(class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := l.CheckAndConsume(class, c.ClientIP())
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds(d.RetryAfter)))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// cleanup periodically removes stale entries
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (l *Limiter) cleanupStaleEntries() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for k, e := range l.entries {
		e.mu.Lock()
		if now.Sub(e.lastAccess) > l.config.MaxAge {
			e.removed = true
			delete(l.entries, k)
		}
		e.mu.Unlock()
	}
}

// Len returns the current number of tracked keys (for testing/metrics)
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Config returns a copy of the current configuration (for testing)
func (l *Limiter) Config() Config {
	return l.config
}
