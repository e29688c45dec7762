package http

import "time"

// rateLimiter counts inbound frames of one connection in fixed windows. It is
// owned by the read loop and needs no locking.
type rateLimiter struct {
	limit  int
	window time.Duration
	start  time.Time
	count  int
}

// newRateLimiter allows perMinute frames per minute; zero or less disables it.
func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{limit: perMinute, window: time.Minute}
}

func (r *rateLimiter) allow(now time.Time) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
