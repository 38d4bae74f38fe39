package cache

import "time"

// Entry is a single cached value with its expiry, tag set, metadata, and
// hit accounting. Mutation goes through methods so invariants hold: an
// entry whose TTL disables expiration never reports expired, updates
// refresh UpdatedAt but never CreatedAt or HitCount, and each lifecycle
// transition records exactly one pending event.
type Entry struct {
	key       Key
	value     string
	ttl       TTL
	tags      []Tag
	metadata  map[string]string
	hitCount  int64
	createdAt time.Time
	updatedAt time.Time
	expiresAt time.Time // zero when the entry never expires

	clock  func() time.Time // nil means wall clock
	events []Event
}

// NewEntry builds a fresh entry, stamping CreatedAt = UpdatedAt = now (UTC)
// and computing the expiration instant from ttl. Duplicate tags are
// dropped. A created event is recorded.
func NewEntry(key Key, value string, ttl TTL, tags []Tag, metadata map[string]string) (*Entry, error) {
	return newEntry(key, value, ttl, tags, metadata, nil)
}

// newEntry is NewEntry with an injectable time source; the service passes
// its own clock so entry timestamps agree with its expiry checks.
func newEntry(key Key, value string, ttl TTL, tags []Tag, metadata map[string]string, clock func() time.Time) (*Entry, error) {
	if key.IsZero() {
		return nil, &ValidationError{Field: "key", Value: "", Constraint: "must not be empty"}
	}
	e := &Entry{
		key:   key,
		value: value,
		ttl:   ttl,
		clock: clock,
	}
	now := e.now()
	e.createdAt = now
	e.updatedAt = now
	for _, t := range tags {
		e.appendTag(t)
	}
	if len(metadata) > 0 {
		e.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			e.metadata[k] = v
		}
	}
	if at, ok := ttl.ExpiresAt(now); ok {
		e.expiresAt = at
	}
	e.record(EventCreated, now)
	return e, nil
}

// RestoreEntry rehydrates an entry from storage without recording events.
// Backends use it to round-trip persisted rows; it performs no validation
// beyond requiring a non-zero key.
func RestoreEntry(key Key, value string, ttl TTL, tags []Tag, metadata map[string]string, hitCount int64, createdAt, updatedAt, expiresAt time.Time) *Entry {
	e := &Entry{
		key:       key,
		value:     value,
		ttl:       ttl,
		hitCount:  hitCount,
		createdAt: createdAt,
		updatedAt: updatedAt,
		expiresAt: expiresAt,
	}
	for _, t := range tags {
		e.appendTag(t)
	}
	if len(metadata) > 0 {
		e.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			e.metadata[k] = v
		}
	}
	return e
}

func (e *Entry) now() time.Time {
	if e.clock != nil {
		return e.clock().UTC()
	}
	return time.Now().UTC()
}

func (e *Entry) withClock(clock func() time.Time) *Entry {
	e.clock = clock
	return e
}

// Key returns the entry's key.
func (e *Entry) Key() Key { return e.key }

// Value returns the opaque payload.
func (e *Entry) Value() string { return e.value }

// TTL returns the TTL recorded at the last write.
func (e *Entry) TTL() TTL { return e.ttl }

// Tags returns a copy of the tag set in insertion order.
func (e *Entry) Tags() []Tag {
	if len(e.tags) == 0 {
		return nil
	}
	return append([]Tag(nil), e.tags...)
}

// Metadata returns a copy of the free-form annotations.
func (e *Entry) Metadata() map[string]string {
	if len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// HitCount returns the number of successful reads served by this entry.
func (e *Entry) HitCount() int64 { return e.hitCount }

// CreatedAt returns the creation instant.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// UpdatedAt returns the instant of the last mutation.
func (e *Entry) UpdatedAt() time.Time { return e.updatedAt }

// ExpiresAt returns the expiration instant. ok is false when the entry
// never expires.
func (e *Entry) ExpiresAt() (at time.Time, ok bool) {
	if e.expiresAt.IsZero() {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Update replaces the payload and, when ttl is non-nil, the TTL and
// expiration instant. UpdatedAt is always refreshed; CreatedAt and
// HitCount are untouched. An updated event is recorded.
func (e *Entry) Update(value string, ttl *TTL) {
	now := e.now()
	e.value = value
	if ttl != nil {
		e.ttl = *ttl
		e.expiresAt = time.Time{}
		if at, ok := ttl.ExpiresAt(now); ok {
			e.expiresAt = at
		}
	}
	e.updatedAt = now
	e.record(EventUpdated, now)
}

// IncrementHitCount bumps the hit counter and UpdatedAt. It records no
// event: reads are high frequency and eventing them would be noise.
func (e *Entry) IncrementHitCount() {
	e.hitCount++
	e.updatedAt = e.now()
}

// IsExpired reports whether the entry has passed its expiration instant.
func (e *Entry) IsExpired() bool { return e.IsExpiredAt(e.now()) }

// IsExpiredAt is IsExpired evaluated at an explicit instant.
func (e *Entry) IsExpiredAt(at time.Time) bool {
	return !e.expiresAt.IsZero() && at.After(e.expiresAt)
}

// HasTag reports whether the tag set contains tag.
func (e *Entry) HasTag(tag Tag) bool {
	for _, t := range e.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the tag set intersects tags.
func (e *Entry) HasAnyTag(tags ...Tag) bool {
	for _, t := range tags {
		if e.HasTag(t) {
			return true
		}
	}
	return false
}

// AddTag adds tag to the set; adding a duplicate is a no-op.
func (e *Entry) AddTag(tag Tag) {
	if e.appendTag(tag) {
		e.updatedAt = e.now()
	}
}

// RemoveTag removes tag from the set; removing an absent tag is a no-op.
func (e *Entry) RemoveTag(tag Tag) {
	for i, t := range e.tags {
		if t == tag {
			e.tags = append(e.tags[:i], e.tags[i+1:]...)
			e.updatedAt = e.now()
			return
		}
	}
}

// MergeMetadata merges annotations into the existing set; existing keys
// absent from patch are kept.
func (e *Entry) MergeMetadata(patch map[string]string) {
	if len(patch) == 0 {
		return
	}
	if e.metadata == nil {
		e.metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		e.metadata[k] = v
	}
	e.updatedAt = e.now()
}

// RemainingTTL returns the seconds until expiry, clamped at zero. Entries
// with no expiration also return zero; callers distinguish the two cases
// via TTL().IsNoExpiration().
func (e *Entry) RemainingTTL() int64 {
	if e.expiresAt.IsZero() {
		return 0
	}
	remaining := int64(e.expiresAt.Sub(e.now()) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ShouldRefresh reports whether more than threshold has elapsed since the
// last update. It is a hook for refresh-ahead strategies; the service does
// not call it.
func (e *Entry) ShouldRefresh(threshold time.Duration) bool {
	return e.now().Sub(e.updatedAt) > threshold
}

// Expire marks the entry expired as of now and records an expired event.
func (e *Entry) Expire() {
	now := e.now()
	e.expiresAt = now
	e.record(EventExpired, now)
}

// MarkDeleted records a deleted event. The entry holds no deleted flag;
// removal itself is the repository's job.
func (e *Entry) MarkDeleted() {
	e.record(EventDeleted, e.now())
}

// Events returns the pending lifecycle events without clearing them.
func (e *Entry) Events() []Event {
	if len(e.events) == 0 {
		return nil
	}
	return append([]Event(nil), e.events...)
}

// DrainEvents returns the pending lifecycle events and clears the list.
func (e *Entry) DrainEvents() []Event {
	out := e.events
	e.events = nil
	return out
}

func (e *Entry) appendTag(tag Tag) bool {
	if tag.IsZero() || e.HasTag(tag) {
		return false
	}
	e.tags = append(e.tags, tag)
	return true
}

func (e *Entry) record(kind EventKind, at time.Time) {
	e.events = append(e.events, newEvent(kind, e.key, at))
}
