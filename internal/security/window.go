package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/buttermb/menulink/pkg/redis"
)

// WindowState describes the current velocity window for a (token, ip) pair
type WindowState struct {
	Count       int64
	WindowStart time.Time
	// RetryAfter is how long until the window resets; only meaningful
	// when the count is over the threshold.
	RetryAfter time.Duration
}

// windowScript atomically counts a hit inside a rolling per-minute
// window. Returns {count, ttl_ms}. The first hit of a window sets the
// expiry; later hits only increment.
const windowScript = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
    redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    redis.call("PEXPIRE", key, window_ms)
    ttl = window_ms
end

return {count, ttl}
`

// VelocityWindow counts access attempts per (token, ip) within a fixed
// window. Redis-backed so the window holds across replicas; a local
// in-memory window takes over when Redis is unreachable so a Redis
// outage degrades precision instead of dropping requests.
type VelocityWindow struct {
	redis     *pkgredis.Client
	window    time.Duration
	keyPrefix string

	local   *localWindow
	mu      sync.Mutex
	nowFunc func() time.Time
}

// NewVelocityWindow creates a velocity window counter. redis may be
// nil, in which case only the local window is used.
func NewVelocityWindow(redis *pkgredis.Client, window time.Duration) *VelocityWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &VelocityWindow{
		redis:     redis,
		window:    window,
		keyPrefix: "menulink:velocity:",
		local:     newLocalWindow(window),
		nowFunc:   time.Now,
	}
}

// Hit records one attempt and returns the resulting window state
func (w *VelocityWindow) Hit(ctx context.Context, token, ipHash string) (*WindowState, error) {
	key := w.keyPrefix + token + ":" + ipHash

	if w.redis != nil {
		state, err := w.redisHit(ctx, key)
		if err == nil {
			return state, nil
		}
		// fall through to the local window on any Redis error
	}

	return w.local.hit(key, w.nowFunc()), nil
}

func (w *VelocityWindow) redisHit(ctx context.Context, key string) (*WindowState, error) {
	result := w.redis.Eval(ctx, windowScript, []string{key}, w.window.Milliseconds())
	if result.Err() != nil {
		return nil, result.Err()
	}
	values, err := result.Slice()
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected result length %d", len(values))
	}

	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)
	ttl := time.Duration(ttlMs) * time.Millisecond

	now := w.nowFunc()
	return &WindowState{
		Count:       count,
		WindowStart: now.Add(ttl - w.window),
		RetryAfter:  ttl,
	}, nil
}

// localWindow is the in-process fallback counter
type localWindow struct {
	window  time.Duration
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	count int64
	start time.Time
}

func newLocalWindow(window time.Duration) *localWindow {
	return &localWindow{
		window:  window,
		entries: make(map[string]*localEntry),
	}
}

func (l *localWindow) hit(key string, now time.Time) *WindowState {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.Sub(e.start) >= l.window {
		e = &localEntry{start: now}
		l.entries[key] = e
		// opportunistic cleanup of stale entries
		if len(l.entries) > 4096 {
			for k, v := range l.entries {
				if now.Sub(v.start) >= l.window {
					delete(l.entries, k)
				}
			}
		}
	}
	e.count++

	return &WindowState{
		Count:       e.count,
		WindowStart: e.start,
		RetryAfter:  l.window - now.Sub(e.start),
	}
}
