package cache

import (
	"bytes"
	"context"
	"encoding/json"
)

// GetJSON reads key and decodes its payload into T. found is false on a
// miss. A payload that fails to decode is a SerializationError, never a
// miss.
func GetJSON[T any](ctx context.Context, s *Service, key string) (value T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return value, false, err
	}
	if raw == "" {
		return value, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		var zero T
		return zero, false, &SerializationError{Key: key, Err: err}
	}
	return value, true, nil
}

// SetJSON encodes value as JSON and stores it under key.
func SetJSON[T any](ctx context.Context, s *Service, key string, value T, opts ...WriteOption) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return s.Set(ctx, key, string(raw), opts...)
}

// GetOrSetJSON is the cache-aside pattern over JSON payloads. A cached
// payload that decodes to JSON null is treated as a miss and reloaded.
func GetOrSetJSON[T any](ctx context.Context, s *Service, key string, loader func(ctx context.Context) (T, error), opts ...WriteOption) (T, error) {
	var zero T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if raw != "" && !isJSONNull(raw) {
		var value T
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return zero, &SerializationError{Key: key, Err: err}
		}
		return value, nil
	}
	loaded, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	if err := SetJSON(ctx, s, key, loaded, opts...); err != nil {
		return zero, err
	}
	return loaded, nil
}

func isJSONNull(raw string) bool {
	return bytes.Equal(bytes.TrimSpace([]byte(raw)), []byte("null"))
}
