package realtime

import "time"

// frameLimiter caps inbound frames on one log-stream connection: at most
// limit frames in any window. It remembers only the last limit accepted
// frames, so a flood of rejected frames costs nothing. Not safe for
// concurrent use; each connection's read loop owns one.
type frameLimiter struct {
	stamps []time.Time
	next   int
	filled bool
	window time.Duration
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{stamps: make([]time.Time, limit), window: window}
}

// Allow records a frame read at now and reports whether it is within budget.
func (l *frameLimiter) Allow(now time.Time) bool {
	// Once full, stamps[next] is the oldest accepted frame.
	if l.filled && l.stamps[l.next].After(now.Add(-l.window)) {
		return false
	}
	l.stamps[l.next] = now
	l.next++
	if l.next == len(l.stamps) {
		l.next = 0
		l.filled = true
	}
	return true
}
