package httpx

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter counts requests per bucket within a fixed window.
type RateLimiter interface {
	Allow(bucket string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateScope selects what a budget is counted against.
type rateScope uint8

const (
	scopeIP rateScope = iota
	scopeUser
)

// rateRule is a named request budget. Rules never share counters.
type rateRule struct {
	name   string
	limit  int
	window time.Duration
	scope  rateScope
}

var (
	ruleSignup = rateRule{name: "signup", limit: 5, window: time.Minute, scope: scopeIP}
	ruleLogin  = rateRule{name: "login", limit: 12, window: time.Minute, scope: scopeIP}
	ruleRead   = rateRule{name: "read", limit: 120, window: time.Minute, scope: scopeUser}
	ruleWrite  = rateRule{name: "write", limit: 60, window: time.Minute, scope: scopeUser}
	ruleStream = rateRule{name: "stream", limit: 30, window: 30 * time.Second, scope: scopeUser}
)

// ruleForMethod picks the read or write budget for variable and environment routes.
func ruleForMethod(method string) rateRule {
	if method == http.MethodGet || method == http.MethodHead {
		return ruleRead
	}
	return ruleWrite
}

// rateSubject is who a request is charged to.
type rateSubject struct {
	kind string // "user" or "ip"
	id   string
}

func (s rateSubject) bucket(rule rateRule) string {
	return rule.name + "|" + s.kind + ":" + s.id
}

// subjectFor charges authenticated requests to the user when the rule asks
// for it and to the peer address otherwise. Forwarded headers are ignored so
// clients cannot pick their own bucket.
func subjectFor(req *http.Request, scope rateScope) rateSubject {
	if scope == scopeUser {
		if actor, ok := actorFromContext(req.Context()); ok {
			return rateSubject{kind: "user", id: actor.ID}
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return rateSubject{kind: "ip", id: host}
}

// admit charges req against rule. When the budget is spent it answers 429
// itself and returns false.
func (r *Router) admit(w http.ResponseWriter, req *http.Request, rule rateRule) bool {
	if r.limiter == nil || rule.limit <= 0 {
		return true
	}
	subject := subjectFor(req, rule.scope)
	decision := r.limiter.Allow(subject.bucket(rule), rule.limit, rule.window)
	setRateHeaders(w.Header(), rule.limit, decision)
	if decision.allowed {
		return true
	}
	r.recordRateLimitHit(rule.name, subject.kind)
	if !decision.windowEnd.IsZero() {
		wait := math.Ceil(time.Until(decision.windowEnd).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(max(int(wait), 1)))
	}
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// limited wraps next with a fixed rule.
func (r *Router) limited(rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.admit(w, req, rule) {
			next(w, req)
		}
	}
}

func setRateHeaders(h http.Header, limit int, decision rateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(limit-decision.count, 0)))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

const windowSweepInterval = 5 * time.Minute

type fixedWindow struct {
	count  int
	resets time.Time
}

// memoryRateLimiter keeps fixed windows in process. It is the fallback when
// no Redis address is configured.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]fixedWindow
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a process local limiter that evicts finished
// windows until Close is called.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(time.Now, windowSweepInterval)
}

func newMemoryRateLimiter(now func() time.Time, sweep time.Duration) *memoryRateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]fixedWindow),
		now:     now,
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go rl.sweepEvery(sweep)
	}
	return rl
}

func (rl *memoryRateLimiter) Allow(bucket string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[bucket]
	if !ok || !now.Before(w.resets) {
		w = fixedWindow{resets: now.Add(window)}
	}
	if w.count >= limit {
		return rateDecision{count: w.count, windowEnd: w.resets}
	}
	w.count++
	rl.windows[bucket] = w
	return rateDecision{allowed: true, count: w.count, windowEnd: w.resets}
}

func (rl *memoryRateLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictFinished()
		case <-rl.stop:
			return
		}
	}
}

// evictFinished drops windows that have reset and reports how many it removed.
func (rl *memoryRateLimiter) evictFinished() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for bucket, w := range rl.windows {
		if !now.Before(w.resets) {
			delete(rl.windows, bucket)
			evicted++
		}
	}
	return evicted
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
