package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	l := New(cfg, WithClock(clk))
	t.Cleanup(l.Stop)
	return l, clk
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	send := cfg.Policies[ClassSend]
	assert.Equal(t, 50, send.Limit)
	assert.Equal(t, time.Hour, send.Window)
	assert.Equal(t, time.Minute, send.MinInterval)

	change := cfg.Policies[ClassConfigChange]
	assert.Equal(t, 10, change.Limit)
	assert.Equal(t, time.Hour, change.Window)
	assert.Zero(t, change.MinInterval)

	_, global := cfg.Policies[ClassSendGlobal]
	assert.False(t, global, "global send policy must be disabled by default")
}

func TestNew(t *testing.T) {
	t.Run("sets default cleanup interval if zero", func(t *testing.T) {
		l := New(Config{})
		defer l.Stop()
		assert.Equal(t, time.Minute, l.Config().CleanupInterval)
	})

	t.Run("raises max age to the longest window", func(t *testing.T) {
		l := New(Config{
			Policies: map[Class]Policy{ClassSend: {Limit: 1, Window: 2 * time.Hour}},
			MaxAge:   time.Minute,
		})
		defer l.Stop()
		assert.Equal(t, 2*time.Hour, l.Config().MaxAge)
	})
}

func TestCheckAndConsume_WindowCap(t *testing.T) {
	l, clk := newTestLimiter(t, DefaultConfig())
	key := "client-a"

	for i := 1; i <= 50; i++ {
		d := l.CheckAndConsume(ClassSend, key)
		require.True(t, d.Allowed, "send %d should be allowed", i)
		clk.Step(time.Minute)
	}

	d := l.CheckAndConsume(ClassSend, key)
	assert.False(t, d.Allowed, "send 51 must be denied")
	assert.Equal(t, ReasonWindowExceeded, d.Reason)
	assert.Equal(t, 10*time.Minute, d.RetryAfter)

	clk.Step(d.RetryAfter)
	assert.True(t, l.CheckAndConsume(ClassSend, key).Allowed, "new window must allow again")
}

func TestCheckAndConsume_MinInterval(t *testing.T) {
	l, clk := newTestLimiter(t, DefaultConfig())
	key := "client-a"

	require.True(t, l.CheckAndConsume(ClassSend, key).Allowed)

	clk.Step(10 * time.Second)
	d := l.CheckAndConsume(ClassSend, key)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMinInterval, d.Reason)
	assert.InDelta(t, (50 * time.Second).Seconds(), d.RetryAfter.Seconds(), 0.01)

	// The denied attempt must not push the next allowed time further out.
	clk.Step(50 * time.Second)
	assert.True(t, l.CheckAndConsume(ClassSend, key).Allowed)
}

func TestCheckAndConsume_DeniedAttemptsAreNotCounted(t *testing.T) {
	cfg := Config{Policies: map[Class]Policy{
		ClassSend: {Limit: 2, Window: time.Hour, MinInterval: time.Minute},
	}}
	l, clk := newTestLimiter(t, cfg)

	require.True(t, l.CheckAndConsume(ClassSend, "k").Allowed)
	for i := 0; i < 5; i++ {
		clk.Step(time.Second)
		require.False(t, l.CheckAndConsume(ClassSend, "k").Allowed)
	}
	clk.Step(time.Minute)
	assert.True(t, l.CheckAndConsume(ClassSend, "k").Allowed, "interval denials must not use up the window")
}

func TestCheckAndConsume_ConfigChange(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())

	for i := 1; i <= 10; i++ {
		require.True(t, l.CheckAndConsume(ClassConfigChange, "admin").Allowed, "change %d", i)
	}
	d := l.CheckAndConsume(ClassConfigChange, "admin")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)
}

func TestCheckAndConsume_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())

	require.True(t, l.CheckAndConsume(ClassSend, "a").Allowed)
	require.False(t, l.CheckAndConsume(ClassSend, "a").Allowed)
	assert.True(t, l.CheckAndConsume(ClassSend, "b").Allowed)
	assert.True(t, l.CheckAndConsume(ClassConfigChange, "a").Allowed, "classes must not share state")
}

func TestCheckAndConsume_UnknownClassIsDenied(t *testing.T) {
	l, _ := newTestLimiter(t, DefaultConfig())

	d := l.CheckAndConsume(Class("bogus"), "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnknownClass, d.Reason)

	d = l.CheckAndConsume(ClassSendGlobal, GlobalKey)
	assert.False(t, d.Allowed, "disabled global class must fail closed")
}

func TestCheckAndConsume_GlobalPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies[ClassSendGlobal] = Policy{Limit: 2, Window: time.Hour}
	l, _ := newTestLimiter(t, cfg)

	assert.True(t, l.CheckAndConsume(ClassSendGlobal, GlobalKey).Allowed)
	assert.True(t, l.CheckAndConsume(ClassSendGlobal, GlobalKey).Allowed)
	assert.False(t, l.CheckAndConsume(ClassSendGlobal, GlobalKey).Allowed)
}

func TestCheckAndConsume_Concurrent(t *testing.T) {
	cfg := Config{Policies: map[Class]Policy{
		ClassConfigChange: {Limit: 25, Window: time.Hour},
	}}
	l, _ := newTestLimiter(t, cfg)

	t.Run("same key never exceeds the cap", func(t *testing.T) {
		var allowed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.CheckAndConsume(ClassConfigChange, "shared").Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(25), allowed.Load())
	})

	t.Run("distinct keys are all allowed", func(t *testing.T) {
		var denied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if !l.CheckAndConsume(ClassConfigChange, fmt.Sprintf("key-%d", i)).Allowed {
					denied.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Zero(t, denied.Load())
	})
}

func TestCleanupStaleEntries(t *testing.T) {
	l, clk := newTestLimiter(t, DefaultConfig())

	l.CheckAndConsume(ClassSend, "old")
	clk.Step(30 * time.Minute)
	l.CheckAndConsume(ClassSend, "fresh")
	assert.Equal(t, 2, l.Len())

	clk.Step(31 * time.Minute)
	l.cleanupStaleEntries()
	assert.Equal(t, 1, l.Len(), "only the entry idle beyond max age is removed")

	assert.True(t, l.CheckAndConsume(ClassSend, "old").Allowed, "swept key starts fresh")
}

func TestCleanupRunsInBackground(t *testing.T) {
	l := New(Config{
		Policies:        map[Class]Policy{ClassAPI: {Limit: 10, Window: 10 * time.Millisecond}},
		CleanupInterval: 10 * time.Millisecond,
		MaxAge:          10 * time.Millisecond,
	})
	defer l.Stop()

	l.CheckAndConsume(ClassAPI, "192.168.1.1")
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 42, RetryAfterSeconds(41*time.Second+time.Millisecond))
	assert.Equal(t, 600, RetryAfterSeconds(10*time.Minute))
}

func TestMiddleware(t *testing.T) {
	cfg := Config{Policies: map[Class]Policy{ClassAPI: {Limit: 2, Window: time.Minute}}}
	l, _ := newTestLimiter(t, cfg)

	router := gin.New()
	router.Use(l.Middleware(ClassAPI))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(remote string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = remote
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusOK, do("192.168.1.1:1234").Code)

	w := do("192.168.1.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("192.168.1.2:1234").Code, "other IPs are unaffected")
}
