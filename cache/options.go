package cache

import "time"

// Options configures a Service.
type Options struct {
	// DefaultTTL applies to writes that do not name a TTL.
	DefaultTTL TTL
	// KeyPrefix namespaces every key the service touches.
	KeyPrefix string
	// Clock supplies the current time; overridable for tests.
	Clock func() time.Time
	// EventSink, when set, receives drained entry lifecycle events.
	EventSink EventSink
	// StampedeProtection collapses concurrent GetOrSet loads for the same
	// key into one shared loader invocation. Off by default: the default
	// semantics allow duplicate recomputation on a cold key.
	StampedeProtection bool
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		DefaultTTL: TTLOneHour,
		Clock:      time.Now,
	}
}

// WithDefaultTTL sets the TTL applied to writes that do not name one.
func WithDefaultTTL(ttl TTL) Option {
	return func(o *Options) { o.DefaultTTL = ttl }
}

// WithKeyPrefix namespaces every key under prefix (joined with ':').
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) { o.KeyPrefix = prefix }
}

// WithClock overrides the time source. It governs both expiry checks and
// the timestamps stamped on entries the service creates or mutates.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithEventSink registers a sink for entry lifecycle events.
func WithEventSink(sink EventSink) Option {
	return func(o *Options) { o.EventSink = sink }
}

// WithStampedeProtection opts into single-flight deduplication of
// concurrent GetOrSet loads.
func WithStampedeProtection() Option {
	return func(o *Options) { o.StampedeProtection = true }
}

// WriteOption adjusts a single write (Set, GetOrSet, and friends).
type WriteOption func(*writeOptions)

type writeOptions struct {
	ttl      *TTL
	tags     []string
	metadata map[string]string
}

// WithTTL sets the TTL for this write instead of the service default.
func WithTTL(ttl TTL) WriteOption {
	return func(w *writeOptions) { w.ttl = &ttl }
}

// WithTags attaches tags to the written entry.
func WithTags(tags ...string) WriteOption {
	return func(w *writeOptions) { w.tags = append(w.tags, tags...) }
}

// WithMetadata attaches free-form annotations to the written entry.
func WithMetadata(metadata map[string]string) WriteOption {
	return func(w *writeOptions) { w.metadata = metadata }
}
