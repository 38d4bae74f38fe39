// Package cache implements a typed key/value caching engine with per-entry
// TTL expiry, tag-based grouping for bulk invalidation, pattern-based
// invalidation, hit/miss accounting, and atomic primitives. Storage is
// pluggable: the engine only requires a backend that satisfies the
// Repository contract (see the memory, redis, and postgres packages for
// implementations).
package cache

import (
	"strings"
	"unicode"
)

// MaxKeyLength bounds the raw length of a Key.
const MaxKeyLength = 250

// Key is a validated cache entry identifier. The zero value is invalid;
// construct through NewKey. Two Keys with the same raw value are equal.
type Key struct {
	raw string
}

// NewKey validates raw and returns it as a Key. Keys must be 1 to 250
// characters and contain no whitespace or control characters.
func NewKey(raw string) (Key, error) {
	if raw == "" {
		return Key{}, &ValidationError{Field: "key", Value: raw, Constraint: "must not be empty"}
	}
	if len(raw) > MaxKeyLength {
		return Key{}, &ValidationError{Field: "key", Value: truncate(raw), Constraint: "must be at most 250 characters"}
	}
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return Key{}, &ValidationError{Field: "key", Value: truncate(raw), Constraint: "must not contain whitespace or control characters"}
		}
	}
	return Key{raw: raw}, nil
}

// MustKey is NewKey for static keys known to be valid; it panics on
// validation failure and is intended for tests and package-level constants.
func MustKey(raw string) Key {
	k, err := NewKey(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the raw key.
func (k Key) String() string { return k.raw }

// IsZero reports whether k is the invalid zero value.
func (k Key) IsZero() bool { return k.raw == "" }

// WithPrefix returns a new Key of the form "prefix:key".
func (k Key) WithPrefix(prefix string) Key {
	if prefix == "" {
		return k
	}
	return Key{raw: prefix + ":" + k.raw}
}

// WithPrefixes applies prefixes left to right, so
// MustKey("42").WithPrefixes("tenant", "user") yields "tenant:user:42".
func (k Key) WithPrefixes(prefixes ...string) Key {
	if len(prefixes) == 0 {
		return k
	}
	joined := strings.Join(prefixes, ":")
	return k.WithPrefix(joined)
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
