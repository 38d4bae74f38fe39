package cache

// MaxTagLength bounds the raw length of a Tag.
const MaxTagLength = 100

// Tag is a validated grouping label. Many entries may share a tag and one
// entry may carry many tags; deleting by tag removes every entry whose tag
// set contains it. Construct through NewTag.
type Tag struct {
	raw string
}

// NewTag validates raw and returns it as a Tag. Tags must be 1 to 100
// characters drawn from [A-Za-z0-9:_-].
func NewTag(raw string) (Tag, error) {
	if raw == "" {
		return Tag{}, &ValidationError{Field: "tag", Value: raw, Constraint: "must not be empty"}
	}
	if len(raw) > MaxTagLength {
		return Tag{}, &ValidationError{Field: "tag", Value: truncate(raw), Constraint: "must be at most 100 characters"}
	}
	for _, r := range raw {
		if !isTagRune(r) {
			return Tag{}, &ValidationError{Field: "tag", Value: truncate(raw), Constraint: "must contain only letters, digits, ':', '_', or '-'"}
		}
	}
	return Tag{raw: raw}, nil
}

// MustTag is NewTag for static tags known to be valid; it panics on
// validation failure.
func MustTag(raw string) Tag {
	t, err := NewTag(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTags validates each raw value and returns the resulting tags,
// preserving order. The first invalid value aborts the whole batch.
func NewTags(raw ...string) ([]Tag, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	tags := make([]Tag, 0, len(raw))
	for _, r := range raw {
		t, err := NewTag(r)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// String returns the raw tag.
func (t Tag) String() string { return t.raw }

// IsZero reports whether t is the invalid zero value.
func (t Tag) IsZero() bool { return t.raw == "" }

// WithPrefix returns a new Tag of the form "prefix:tag". The prefix must
// itself be valid tag material; invalid results fail NewTag.
func (t Tag) WithPrefix(prefix string) (Tag, error) {
	if prefix == "" {
		return t, nil
	}
	return NewTag(prefix + ":" + t.raw)
}

func isTagRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ':' || r == '_' || r == '-':
		return true
	}
	return false
}

// TagStrings converts tags back to their raw form, preserving order.
func TagStrings(tags []Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.raw
	}
	return out
}
