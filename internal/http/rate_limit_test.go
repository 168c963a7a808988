package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/logger"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedLimiter(t *testing.T) (*memoryRateLimiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := newMemoryRateLimiter(clock.Now, 0)
	t.Cleanup(rl.Close)
	return rl, clock
}

func TestMemoryRateLimiterFixedWindow(t *testing.T) {
	rl, clock := newClockedLimiter(t)

	for i := 1; i <= 3; i++ {
		d := rl.Allow("read|ip:1", 3, time.Minute)
		require.True(t, d.allowed)
		assert.Equal(t, i, d.count)
	}
	denied := rl.Allow("read|ip:1", 3, time.Minute)
	assert.False(t, denied.allowed)
	assert.Equal(t, clock.Now().Add(time.Minute), denied.windowEnd)
	assert.True(t, rl.Allow("read|ip:2", 3, time.Minute).allowed)
	assert.True(t, rl.Allow("read|ip:1", 0, time.Minute).allowed)

	clock.Advance(time.Minute)
	d := rl.Allow("read|ip:1", 3, time.Minute)
	assert.True(t, d.allowed)
	assert.Equal(t, 1, d.count)
}

func TestMemoryRateLimiterEvictsFinishedWindows(t *testing.T) {
	rl, clock := newClockedLimiter(t)

	rl.Allow("a", 1, time.Second)
	rl.Allow("b", 1, time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, rl.evictFinished())
	rl.mu.Lock()
	_, kept := rl.windows["b"]
	rl.mu.Unlock()
	assert.True(t, kept)
}

func TestSubjectFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	ip := subjectFor(req, scopeUser)
	assert.Equal(t, rateSubject{kind: "ip", id: "198.51.100.7"}, ip)
	assert.Equal(t, "login|ip:198.51.100.7", ip.bucket(ruleLogin))

	actor := domain.Actor{ID: "u-42", Username: "alice"}
	authed := req.WithContext(context.WithValue(req.Context(), contextKeyActor, actor))
	assert.Equal(t, rateSubject{kind: "user", id: "u-42"}, subjectFor(authed, scopeUser))
	assert.Equal(t, "ip", subjectFor(authed, scopeIP).kind)
}

func TestRuleForMethod(t *testing.T) {
	assert.Equal(t, ruleRead, ruleForMethod(http.MethodGet))
	assert.Equal(t, ruleRead, ruleForMethod(http.MethodHead))
	assert.Equal(t, ruleWrite, ruleForMethod(http.MethodPut))
	assert.Equal(t, ruleWrite, ruleForMethod(http.MethodDelete))
}

func TestAdmitRejectsWithRetryAfter(t *testing.T) {
	rl, _ := newClockedLimiter(t)
	router := &Router{limiter: rl}
	rule := rateRule{name: "tiny", limit: 1, window: time.Minute, scope: scopeIP}
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	first := httptest.NewRecorder()
	require.True(t, router.admit(first, req, rule))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	assert.False(t, router.admit(second, req, rule))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	retry, err := strconv.Atoi(second.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)

	other := rateRule{name: "other", limit: 1, window: time.Minute, scope: scopeIP}
	assert.True(t, router.admit(httptest.NewRecorder(), req, other))
}

func TestRedisRateLimiterUnreachable(t *testing.T) {
	_, err := NewRedisRateLimiter("127.0.0.1:1", "", 0, logger.Discard())
	assert.Error(t, err)
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	rl := &redisRateLimiter{client: client, closer: client.Close, logger: logger.Discard(), timeout: 50 * time.Millisecond}
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("read|user:1", 1, time.Minute).allowed)
	}
}
