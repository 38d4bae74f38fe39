package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a key does not exist.
	// The service never surfaces it to callers: a miss is an empty value,
	// not an error.
	ErrNotFound = errors.New("cache: key not found")

	// ErrNotApplicable signals an invalidation request that names neither
	// tags nor a key pattern.
	ErrNotApplicable = errors.New("cache: no tags or pattern supplied")

	// ErrClosed is returned by repositories after Close.
	ErrClosed = errors.New("cache: repository closed")
)

// ValidationError reports a malformed key, tag, or TTL. It is produced
// before any repository call is made.
type ValidationError struct {
	Field      string
	Value      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cache: invalid %s %q: %s", e.Field, e.Value, e.Constraint)
}

// SerializationError reports a JSON encode or decode failure on a cached
// payload. It is distinct from a miss.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache: serialize %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// BackendError wraps any failure surfaced by the repository.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache: backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsBackend reports whether err is a BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}
