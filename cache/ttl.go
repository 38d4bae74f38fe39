package cache

import (
	"strconv"
	"time"
)

// MaxTTLSeconds caps entry lifetimes at one year.
const MaxTTLSeconds = 365 * 24 * 60 * 60

// TTL is a validated time-to-live measured in whole seconds. Zero means the
// entry never expires. Construct through NewTTL or the unit helpers.
type TTL struct {
	seconds int64
}

// Common lifetimes.
var (
	TTLNoExpiration = TTL{seconds: 0}
	TTLOneMinute    = TTL{seconds: 60}
	TTLFiveMinutes  = TTL{seconds: 5 * 60}
	TTLOneHour      = TTL{seconds: 60 * 60}
	TTLOneDay       = TTL{seconds: 24 * 60 * 60}
	TTLOneWeek      = TTL{seconds: 7 * 24 * 60 * 60}
)

// NewTTL validates seconds and returns it as a TTL. Values must lie in
// [0, 31536000]; zero disables expiration.
func NewTTL(seconds int64) (TTL, error) {
	if seconds < 0 {
		return TTL{}, &ValidationError{Field: "ttl", Value: strconv.FormatInt(seconds, 10), Constraint: "must not be negative"}
	}
	if seconds > MaxTTLSeconds {
		return TTL{}, &ValidationError{Field: "ttl", Value: strconv.FormatInt(seconds, 10), Constraint: "must be at most one year"}
	}
	return TTL{seconds: seconds}, nil
}

// TTLFromDuration truncates d to whole seconds and validates it.
func TTLFromDuration(d time.Duration) (TTL, error) {
	return NewTTL(int64(d / time.Second))
}

// TTLFromMinutes returns a TTL of n minutes.
func TTLFromMinutes(n int64) (TTL, error) { return NewTTL(n * 60) }

// TTLFromHours returns a TTL of n hours.
func TTLFromHours(n int64) (TTL, error) { return NewTTL(n * 60 * 60) }

// TTLFromDays returns a TTL of n days.
func TTLFromDays(n int64) (TTL, error) { return NewTTL(n * 24 * 60 * 60) }

// Seconds returns the TTL in whole seconds; zero means no expiration.
func (t TTL) Seconds() int64 { return t.seconds }

// Duration returns the TTL as a time.Duration.
func (t TTL) Duration() time.Duration { return time.Duration(t.seconds) * time.Second }

// IsNoExpiration reports whether entries carrying this TTL never expire.
func (t TTL) IsNoExpiration() bool { return t.seconds == 0 }

// ExpiresAt converts the TTL to an absolute expiration instant. ok is false
// when the TTL disables expiration.
func (t TTL) ExpiresAt(now time.Time) (expires time.Time, ok bool) {
	if t.IsNoExpiration() {
		return time.Time{}, false
	}
	return now.Add(t.Duration()), true
}
